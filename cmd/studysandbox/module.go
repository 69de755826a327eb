package main

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/sandboxes"
)

type Module struct {
	dscope.Module
	Configs   boardconfigs.Module
	Sandboxes sandboxes.Module
}
