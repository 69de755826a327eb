package nets

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
)

type Module struct {
	dscope.Module
	Configs boardconfigs.Module
	Logs    logs.Module
}
