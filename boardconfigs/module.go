package boardconfigs

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/logs"
)

type Module struct {
	dscope.Module
	Configs configs.Module
	Logs    logs.Module
}
