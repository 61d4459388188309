package instrumentation

import (
	"context"
	"time"
)

// StorageOpResult classifies an error returned by a storage operation as
// "success", "not_found" or "error". Storage backends pass their not-found
// predicate so expected misses do not mark spans as failed.
type StorageOpResult func(err error) string

// StartStorageOperation starts a span for a storage operation and returns a
// function that ends it and records count and duration. It is safe to call
// on a nil *Instrumentation, in which case nothing is recorded.
func (i *Instrumentation) StartStorageOperation(ctx context.Context, storageType, operation string, classify StorageOpResult) (context.Context, func(err error)) {
	if i == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := i.Tracer("storage").Start(ctx, "storage."+operation)
	AddStorageAttributes(span, operation, storageType)

	return ctx, func(err error) {
		defer span.End()

		result := "success"
		if err != nil {
			result = "error"
			if classify != nil {
				result = classify(err)
			}
		}
		switch result {
		case "success", "not_found":
			SetSpanSuccess(span)
		default:
			RecordError(span, err)
		}

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		i.metrics.RecordStorageOperation(ctx, operation, result, durationMs)
	}
}
