package bridges

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/nets"
	"github.com/reusee/studyboard/observers"
	"github.com/reusee/studyboard/sandboxes"
)

type Module struct {
	dscope.Module
	Configs   boardconfigs.Module
	Logs      logs.Module
	Nets      nets.Module
	Observers observers.Module
	Sandboxes sandboxes.Module
}
