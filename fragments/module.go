package fragments

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/observers"
)

type Module struct {
	dscope.Module
	Configs   boardconfigs.Module
	Logs      logs.Module
	Observers observers.Module
}
