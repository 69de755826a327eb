package studies

import "strings"

// AutoRun tells what selecting a study does.
type AutoRun string

const (
	AutoRunAlways AutoRun = "always"
	AutoRunPrompt AutoRun = "prompt"
	AutoRunNever  AutoRun = "never"
)

// ParseAutoRun accepts the three policies and maps anything else to never.
func ParseAutoRun(v any) AutoRun {
	s, _ := v.(string)
	switch AutoRun(strings.ToLower(strings.TrimSpace(s))) {
	case AutoRunAlways:
		return AutoRunAlways
	case AutoRunPrompt:
		return AutoRunPrompt
	}
	return AutoRunNever
}
