package observers

import (
	"testing"

	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/modes"
)

func TestInstruments(t *testing.T) {
	dscope.New(
		modes.ForTest(t),
		new(Module),
	).Fork(
		func() configs.Loader {
			return configs.NewLoader(nil, "")
		},
	).Call(func(
		inst *Instruments,
		shutdown Shutdown,
	) {
		ctx, span := inst.Tracer.Start(t.Context(), "test")
		inst.Calls.Add(ctx, 1)
		inst.Fragments.Add(ctx, 1)
		span.End()
		if err := shutdown(t.Context()); err != nil {
			t.Fatal(err)
		}
	})
}
