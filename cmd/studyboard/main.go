package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/bridges"
	"github.com/reusee/studyboard/cmds"
	"github.com/reusee/studyboard/hosts"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/modes"
	"github.com/reusee/studyboard/observers"
	"github.com/reusee/studyboard/sessions"
	"github.com/reusee/studyboard/workcopies"
)

var archivePath = cmds.Var[string]("-archive")

// action is the subcommand selected on the command line.
var action func(ctx context.Context, b *board) error

func init() {
	cmds.Define("tree", cmds.Func(func() {
		action = printTree
	}).Desc("print the file tree of the archive"))

	cmds.Define("studies", cmds.Func(func() {
		action = printStudies
	}).Desc("print the study hierarchy"))

	cmds.Define("run", cmds.Func(func(study string, args []string) {
		action = func(ctx context.Context, b *board) error {
			return runStudy(ctx, b, study, args)
		}
	}).Desc("start a study with key=value arguments"))

	cmds.Define("exec", cmds.Func(func(code string) {
		action = func(ctx context.Context, b *board) error {
			return execCode(ctx, b, code)
		}
	}).Desc("evaluate code in the sandbox session"))

	cmds.Define("export", cmds.Func(func(out string) {
		action = func(ctx context.Context, b *board) error {
			return exportArchive(ctx, b, out)
		}
	}).Desc("write the edited archive to a file or directory"))

	cmds.Define("watch", cmds.Func(func(dir string) {
		action = func(ctx context.Context, b *board) error {
			return watchDir(ctx, b, dir)
		}
	}).Desc("check the study code out to a directory and sync edits back"))

	cmds.Define("serve", cmds.Func(func(addr *string) {
		action = func(ctx context.Context, b *board) error {
			if *addr != "" {
				b.listenAddr = boardconfigs.ListenAddr(*addr)
			}
			return serve(ctx, b)
		}
	}).Desc("serve the study board page"))
}

// board is what every subcommand works on.
type board struct {
	bridge     *bridges.Bridge
	engine     *sessions.Engine
	newCopy    workcopies.NewCopy
	newServer  hosts.NewServer
	listenAddr boardconfigs.ListenAddr
	logger     logs.Logger
}

func main() {
	cmds.Execute(os.Args[1:])
	if action == nil {
		cmds.GlobalExecutor.PrintUsage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dscope.New(
		new(Module),
		modes.ForProduction(),
	).Call(func(
		dial bridges.Dial,
		newEngine sessions.NewEngine,
		newCopy workcopies.NewCopy,
		newServer hosts.NewServer,
		listenAddr boardconfigs.ListenAddr,
		shutdown observers.Shutdown,
		logger logs.Logger,
	) {
		err := func() error {
			defer func() {
				if err := shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("shutdown telemetry", "error", err)
				}
			}()
			bridge, err := dial(ctx)
			if err != nil {
				return fmt.Errorf("connect sandbox: %w", err)
			}
			defer bridge.Close()
			return action(ctx, &board{
				bridge:     bridge,
				engine:     newEngine(bridge),
				newCopy:    newCopy,
				newServer:  newServer,
				listenAddr: listenAddr,
				logger:     logger,
			})
		}()
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, errorText(err))
			os.Exit(1)
		}
	})
}

// open loads the -archive file, or mounts the archive the sandbox already
// holds in its directory.
func (b *board) open(ctx context.Context) error {
	if *archivePath == "" {
		ok, err := b.bridge.Mount(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no archive: pass -archive or point -sandbox-dir at a mounted one")
		}
		return nil
	}
	data, err := os.ReadFile(*archivePath)
	if err != nil {
		return err
	}
	return b.bridge.Load(ctx, filepath.Base(*archivePath), data)
}

func errorText(err error) string {
	var bridgeErr *bridges.Error
	if errors.As(err, &bridgeErr) && bridgeErr.RemoteTrace != "" {
		return err.Error() + "\n" + bridgeErr.RemoteTrace
	}
	return err.Error()
}
