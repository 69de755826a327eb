package bridges

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/nets"
	"github.com/reusee/studyboard/sandboxes"
	"github.com/reusee/studyboard/transports"
)

// Dial connects to the sandbox selected by SandboxSpec.
type Dial func(ctx context.Context) (*Bridge, error)

func (Module) Dial(
	spec boardconfigs.SandboxSpec,
	command boardconfigs.SandboxCommand,
	sandboxDir boardconfigs.SandboxDir,
	newRuntime sandboxes.NewRuntime,
	newBridge NewBridge,
	wsDialer nets.WebSocketDialer,
	logger logs.Logger,
) Dial {
	return func(ctx context.Context) (*Bridge, error) {
		switch {

		case spec == boardconfigs.SandboxInProcess:
			runtime, err := newRuntime(string(sandboxDir))
			if err != nil {
				return nil, err
			}
			return InProcess(runtime, newBridge, logger), nil

		case spec == boardconfigs.SandboxProcess:
			conn, err := transports.SpawnProcess(context.WithoutCancel(ctx), command, os.Stderr)
			if err != nil {
				return nil, err
			}
			logger.InfoContext(ctx, "sandbox process started", "command", []string(command))
			return newBridge(conn), nil

		case strings.HasPrefix(string(spec), "ws://") || strings.HasPrefix(string(spec), "wss://"):
			conn, err := transports.DialWebSocket(ctx, wsDialer, string(spec))
			if err != nil {
				return nil, err
			}
			logger.InfoContext(ctx, "sandbox connected", "url", string(spec))
			return newBridge(conn), nil

		}
		return nil, fmt.Errorf("unknown sandbox: %q", spec)
	}
}

// InProcess serves runtime over an in-memory pipe. Closing the bridge stops
// the server and closes the runtime.
func InProcess(runtime *sandboxes.Runtime, newBridge NewBridge, logger logs.Logger) *Bridge {
	hostSide, sandboxSide := transports.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- transports.Serve(ctx, sandboxSide, runtime, logger)
	}()
	return newBridge(hostSide, func() error {
		cancel()
		return errors.Join(
			<-served,
			runtime.Close(),
		)
	})
}
