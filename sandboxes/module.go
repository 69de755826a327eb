package sandboxes

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/mirrors"
)

type Module struct {
	dscope.Module
	Configs boardconfigs.Module
	Logs    logs.Module
	Mirrors mirrors.Module
}
