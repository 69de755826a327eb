package logs

import (
	"fmt"
	"io"
	"os"

	"github.com/reusee/studyboard/cmds"
)

type Writer io.Writer

var fileFlag = cmds.Var[string]("-log-file")

// Writer is stderr unless -log-file is given. Stdout is never used, the
// sandbox speaks its protocol there.
func (Module) Writer() Writer {
	if *fileFlag == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(*fileFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		return os.Stderr
	}
	return f
}
