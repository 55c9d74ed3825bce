package puma

import "errors"

// NewMulticaster builds a Runnable that subscribes to exactly one input
// Buffer and republishes every Value to N output Buffers (spec.md §4.5). An
// error publishing to any one output does not prevent attempts on the
// others; accumulated failures are joined into a single error returned from
// the handler, which drives the Runnable into errorState and reports
// StatusFailed on the StatusChannel (spec.md §4.5). Complete(err?) is
// forwarded to every output once observed on the input, via the ordinary
// Runnable error-forwarding path (spec.md §4.3) — a Multicaster needs no
// special-cased completion handling of its own.
func NewMulticaster[T any](name string, wakeup Wakeup, logger Logger, input *Buffer[T], outputs []*Buffer[T]) (*Runnable, error) {
	r := NewRunnable(name, wakeup, logger)

	pubs := make([]*Publisher[T], len(outputs))
	for i, out := range outputs {
		pubs[i] = out.Publish()
		RegisterOutput(r, pubs[i])
	}

	handler := HandlerFuncs[T]{
		Value: func(v T) error {
			var errs []error
			for _, p := range pubs {
				if err := p.PublishValue(v); err != nil {
					errs = append(errs, err)
				}
			}
			if len(errs) == 0 {
				return nil
			}
			if logger != nil {
				logger.Warn("multicaster publish failed on some outputs", "failed_count", len(errs), "total_outputs", len(pubs))
			}
			return errors.Join(errs...)
		},
	}

	if err := RegisterInput(r, input, handler); err != nil {
		return nil, err
	}
	return r, nil
}
