package logs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/reusee/dscope"
)

func TestHandler(t *testing.T) {
	dscope.New(new(Module)).Call(func(
		logger Logger,
	) {
		logger.Info("test", "hello", "world!")
	})
}

func TestHandlerWithAttrsKeepsSpan(t *testing.T) {
	buf := new(bytes.Buffer)
	dscope.New(new(Module)).Fork(
		func() Writer {
			return buf
		},
	).Call(func(
		logger Logger,
		newSpan NewSpan,
	) {
		ctx, span := newSpan(t.Context(), "")
		logger.With("component", "sandbox").InfoContext(ctx, "foo")
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		last := lines[len(lines)-1]
		if !strings.Contains(last, "logs.span="+string(span)) {
			t.Fatalf("got %v", last)
		}
		if !strings.Contains(last, "component=sandbox") {
			t.Fatalf("got %v", last)
		}
	})
}

func TestToJournalKey(t *testing.T) {
	if s := toJournalKey("logs.span"); s != "LOGS_SPAN" {
		t.Fatalf("got %s", s)
	}
}
