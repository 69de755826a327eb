package logs

import (
	"context"
	"fmt"
)

// WrapSpan annotates err with the span of ctx, so a failure reported to the
// other side of a channel can be matched with the log lines that produced it.
func WrapSpan(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	v := ctx.Value(SpanKey)
	if v == nil {
		return err
	}
	return fmt.Errorf("%w (span %s)", err, v.(Span))
}
