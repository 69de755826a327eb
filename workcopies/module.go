package workcopies

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/bridges"
	"github.com/reusee/studyboard/logs"
)

type Module struct {
	dscope.Module
	Bridges bridges.Module
	Logs    logs.Module
}
