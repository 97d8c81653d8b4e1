package apmsql

import (
	"context"
	"time"

	"github.com/fllarpy/callprobe/profiling"
)

// recordQuery attributes an executed SQL statement to the call currently open
// in the profiling session carried by ctx. Without a session it does nothing.
func recordQuery(ctx context.Context, query string, dur time.Duration) {
	profiling.AddIOCall(ctx, query, dur)
}
