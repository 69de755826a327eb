package transports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// SpawnProcess starts a sandbox process and talks json lines over its stdio.
// Close shuts stdin and waits for the process, killing it after a grace
// period.
func SpawnProcess(ctx context.Context, command []string, stderr io.Writer) (*StreamConn, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("spawn: empty command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command[0], err)
	}
	return NewStreamConn(stdout, stdin, stdin, processCloser{cmd: cmd}), nil
}

type processCloser struct {
	cmd *exec.Cmd
}

func (p processCloser) Close() error {
	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()
	select {
	case err := <-done:
		return ignoreExit(err)
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		return ignoreExit(<-done)
	}
}

func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
