package publish

import (
	"context"
	"errors"

	. "meridian/internal/common"
	"meridian/internal/engine"
)

// Fanout forwards each event to every reporter, in order, and joins their
// errors. One failing reporter does not stop the others.
type Fanout []engine.Reporter

func (f Fanout) ReportOrder(ctx context.Context, event OrderEvent) error {
	var errs []error
	for _, r := range f {
		if err := r.ReportOrder(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
