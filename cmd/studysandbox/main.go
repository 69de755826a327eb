package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/cmds"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/modes"
	"github.com/reusee/studyboard/sandboxes"
	"github.com/reusee/studyboard/transports"
)

var (
	wsMode   = cmds.Switch("ws")
	replMode = cmds.Switch("repl")
)


func main() {
	cmds.Execute(os.Args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dscope.New(
		new(Module),
		modes.ForProduction(),
	).Call(func(
		newRuntime sandboxes.NewRuntime,
		dir boardconfigs.SandboxDir,
		addr boardconfigs.ListenAddr,
		logger logs.Logger,
	) {
		var err error
		switch {
		case *replMode:
			err = repl(ctx, newRuntime, dir)
		case *wsMode:
			err = serveWebSocket(ctx, newRuntime, dir, addr, logger)
		default:
			err = serveStdio(ctx, newRuntime, dir, logger)
		}
		if err != nil {
			logger.Error("sandbox failed", "error", err)
			os.Exit(1)
		}
	})
}

func serveStdio(ctx context.Context, newRuntime sandboxes.NewRuntime, dir boardconfigs.SandboxDir, logger logs.Logger) error {
	runtime, err := newRuntime(string(dir))
	if err != nil {
		return err
	}
	defer runtime.Close()
	conn := transports.NewStreamConn(os.Stdin, os.Stdout)
	defer conn.Close()
	logger.InfoContext(ctx, "serving on stdio", "dir", runtime.Dir())
	return transports.Serve(ctx, conn, runtime, logger)
}

// serveWebSocket gives every connection its own runtime.
func serveWebSocket(ctx context.Context, newRuntime sandboxes.NewRuntime, dir boardconfigs.SandboxDir, addr boardconfigs.ListenAddr, logger logs.Logger) error {
	ln, err := net.Listen("tcp", string(addr))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /", transports.WebSocketHandler(func(ctx context.Context, conn transports.Conn) {
		runtime, err := newRuntime(string(dir))
		if err != nil {
			logger.ErrorContext(ctx, "new runtime", "error", err)
			return
		}
		defer runtime.Close()
		logger.InfoContext(ctx, "sandbox session", "dir", runtime.Dir())
		if err := transports.Serve(ctx, conn, runtime, logger); err != nil {
			logger.WarnContext(ctx, "session ended", "error", err)
		}
	}))

	srv := &http.Server{
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.InfoContext(ctx, "serving websocket", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func repl(ctx context.Context, newRuntime sandboxes.NewRuntime, dir boardconfigs.SandboxDir) error {
	runtime, err := newRuntime(string(dir))
	if err != nil {
		return err
	}
	defer runtime.Close()
	runtime.REPL(ctx)
	return nil
}
