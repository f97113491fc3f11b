package service

import (
	"context"
	"fmt"
)

// Operation names passed to Isolate and reported on failure
const (
	OpScanRecord     = "scan.record"
	OpScanEnrich     = "scan.enrich"
	OpScanInsert     = "scan.insert"
	OpUsageIncrement = "usage.increment"
)

// Isolate runs fn as a side effect that must not disturb the caller.
// A panic is converted into an error; any error is handed to r. The error
// is returned for callers that want to inspect it, never re-panicked.
func Isolate(ctx context.Context, r Reporter, op string, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", op, p)
		}
		if err != nil && r != nil {
			r.Report(ctx, op, err)
		}
	}()

	return fn(ctx)
}
