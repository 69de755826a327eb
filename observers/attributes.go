package observers

import "go.opentelemetry.io/otel/attribute"

var (
	AttrRequestType = attribute.Key("sandbox.request.type")
	AttrStatus      = attribute.Key("status")
	AttrErrorKind   = attribute.Key("error.kind")
	AttrStudyID     = attribute.Key("study.id")
	AttrStateID     = attribute.Key("study.state_id")
	AttrArchive     = attribute.Key("archive.name")
)
