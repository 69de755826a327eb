package hosts

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/fragments"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/navs"
	"github.com/reusee/studyboard/sessions"
	"github.com/reusee/studyboard/workcopies"
)

type Module struct {
	dscope.Module
	Configs    boardconfigs.Module
	Fragments  fragments.Module
	Logs       logs.Module
	Navs       navs.Module
	Sessions   sessions.Module
	Workcopies workcopies.Module
}
