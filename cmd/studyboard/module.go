package main

import (
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/hosts"
	"github.com/reusee/studyboard/observers"
)

type Module struct {
	dscope.Module
	Hosts     hosts.Module
	Observers observers.Module
}
