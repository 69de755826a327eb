package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/reusee/studyboard/cmds"
	"github.com/reusee/studyboard/mirrors"
	"github.com/reusee/studyboard/studies"
	"golang.org/x/term"
)

func printTree(ctx context.Context, b *board) error {
	if err := b.open(ctx); err != nil {
		return err
	}
	tree, err := b.bridge.Tree(ctx, "")
	if err != nil {
		return err
	}
	writeTree(os.Stdout, tree, 0)
	return nil
}

func writeTree(w io.Writer, node *mirrors.TreeNode, depth int) {
	name := node.Name
	if name == "" {
		name = "/"
	}
	if node.Kind == mirrors.KindDirectory && depth > 0 {
		name += "/"
	}
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
	for _, child := range node.Children {
		writeTree(w, child, depth+1)
	}
}

func printStudies(ctx context.Context, b *board) error {
	if err := b.open(ctx); err != nil {
		return err
	}
	hierarchy, err := b.engine.Discover(ctx)
	if err != nil {
		return err
	}
	writeHierarchy(os.Stdout, hierarchy, 0)
	dirs, count := hierarchy.Count()
	fmt.Printf("%d studies in %d directories\n", count, dirs)
	return nil
}

func writeHierarchy(w io.Writer, nodes []*studies.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, node := range nodes {
		if node.Kind == studies.KindDirectory {
			fmt.Fprintf(w, "%s%s/\n", indent, node.Name)
			writeHierarchy(w, node.Children, depth+1)
			continue
		}
		fmt.Fprintf(w, "%s%s  [%s]", indent, node.Name, node.ID)
		for _, field := range node.Args {
			fmt.Fprintf(w, " %s:%s=%v", field.Name, field.Type, field.Default)
		}
		if node.AutoRun != "" {
			fmt.Fprintf(w, " autorun=%s", node.AutoRun)
		}
		fmt.Fprintln(w)
	}
}

// parseArgs turns key=value pairs into raw study arguments.
func parseArgs(pairs []string) (map[string]any, error) {
	parsed, err := cmds.ParsePairs(pairs)
	if err != nil {
		return nil, err
	}
	args := make(map[string]any, len(parsed))
	for key, value := range parsed {
		args[key] = value
	}
	return args, nil
}

// runStudy starts a study. When stdin is not a terminal, each line of it is
// a JSON message for the study and replies and pushes are printed as JSON
// lines.
func runStudy(ctx context.Context, b *board, study string, pairs []string) error {
	args, err := parseArgs(pairs)
	if err != nil {
		return err
	}
	if err := b.open(ctx); err != nil {
		return err
	}
	if _, err := b.engine.Discover(ctx); err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	var outLock sync.Mutex
	emit := func(v any) {
		outLock.Lock()
		defer outLock.Unlock()
		if err := out.Encode(v); err != nil {
			b.logger.Warn("write output", "error", err)
		}
	}
	remove := b.engine.OnPush(func(data any) {
		emit(map[string]any{"push": data})
	})
	defer remove()

	running, err := b.engine.Start(ctx, study, args)
	if err != nil {
		return err
	}
	defer b.engine.End()
	emit(map[string]any{
		"study":    running.StudyID,
		"state":    running.StateID,
		"args":     running.Args,
		"fragment": running.FragmentSource != "",
	})

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		decoder := json.NewDecoder(strings.NewReader(line))
		decoder.UseNumber()
		var data any
		if err := decoder.Decode(&data); err != nil {
			return fmt.Errorf("bad message %q: %w", line, err)
		}
		reply, err := b.engine.Message(ctx, data)
		if err != nil {
			emit(map[string]any{"error": errorText(err)})
			continue
		}
		emit(map[string]any{"reply": reply})
	}
	return scanner.Err()
}

func execCode(ctx context.Context, b *board, code string) error {
	if code == "-" {
		bs, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		code = string(bs)
	}
	if err := b.open(ctx); err != nil {
		return err
	}
	ret, err := b.bridge.Run(ctx, code, nil)
	if err != nil {
		return err
	}
	if ret == nil {
		return nil
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ret)
}

// exportArchive writes the exported archive to out. An existing directory
// receives a file named after the loaded archive.
func exportArchive(ctx context.Context, b *board, out string) error {
	if err := b.open(ctx); err != nil {
		return err
	}
	name := ""
	if stat, err := os.Stat(out); err != nil || !stat.IsDir() {
		name = filepath.Base(out)
	}
	filename, data, err := b.bridge.Export(ctx, name)
	if err != nil {
		return err
	}
	if name == "" {
		out = filepath.Join(out, filepath.Base(filename))
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	b.logger.InfoContext(ctx, "exported", "file", out, "bytes", len(data))
	return nil
}

// watchDir syncs dir with the sandbox until interrupted.
func watchDir(ctx context.Context, b *board, dir string) error {
	if err := b.open(ctx); err != nil {
		return err
	}
	working := b.newCopy(b.bridge)
	if err := working.Snapshot(ctx); err != nil {
		return err
	}
	watcher, err := working.Watch(dir)
	if err != nil {
		return err
	}
	watcher.OnFlush = func(flushed int, err error) {
		if err != nil {
			b.logger.Error("sync failed", "error", err)
			return
		}
		b.logger.Info("synced", "files", flushed)
	}
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func serve(ctx context.Context, b *board) error {
	server := b.newServer(b.engine)
	defer server.Close()
	if *archivePath != "" {
		data, err := os.ReadFile(*archivePath)
		if err != nil {
			return err
		}
		if _, err := server.Load(ctx, filepath.Base(*archivePath), data); err != nil {
			return err
		}
	} else if ok, err := b.bridge.Mount(ctx); err != nil {
		return err
	} else if ok {
		if _, err := server.Refresh(ctx); err != nil {
			return err
		}
	}
	return server.Serve(ctx, b.listenAddr)
}
