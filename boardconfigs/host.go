package boardconfigs

import (
	"time"

	"github.com/reusee/studyboard/cmds"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/vars"
)

type ListenAddr string

const DefaultListenAddr ListenAddr = "127.0.0.1:8420"

var listenFlag = cmds.Var[string]("-listen")

func (Module) ListenAddr(
	loader configs.Loader,
) ListenAddr {
	return vars.FirstNonZero(
		ListenAddr(*listenFlag),
		configs.First[ListenAddr](loader, "listen_addr"),
		DefaultListenAddr,
	)
}

// ReplaceDelay is the quiet period before argument edits are written into
// the navigation history.
type ReplaceDelay time.Duration

const DefaultReplaceDelay = ReplaceDelay(300 * time.Millisecond)

func (Module) ReplaceDelay(
	loader configs.Loader,
) ReplaceDelay {
	return ReplaceDelay(parseDuration(
		configs.First[string](loader, "replace_delay"),
		time.Duration(DefaultReplaceDelay),
	))
}

// FragmentTimeout bounds a single fragment render or event handler.
type FragmentTimeout time.Duration

const DefaultFragmentTimeout = FragmentTimeout(5 * time.Second)

func (Module) FragmentTimeout(
	loader configs.Loader,
) FragmentTimeout {
	return FragmentTimeout(parseDuration(
		configs.First[string](loader, "fragment_timeout"),
		time.Duration(DefaultFragmentTimeout),
	))
}

// OTLP switches on exporting traces and metrics over OTLP/HTTP.
type OTLP bool

var otlpFlag = cmds.Switch("-otlp")

func (Module) OTLP(
	loader configs.Loader,
) OTLP {
	return OTLP(*otlpFlag || configs.First[bool](loader, "otlp"))
}

func parseDuration(str string, def time.Duration) time.Duration {
	if str == "" {
		return def
	}
	d, err := time.ParseDuration(str)
	if err != nil || d < 0 {
		return def
	}
	return d
}
