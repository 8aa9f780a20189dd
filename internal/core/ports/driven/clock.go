package driven

import (
	"context"
	"time"
)

// Clock abstracts time for retry backoff and batch pacing
type Clock interface {
	Now() time.Time

	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case
	Sleep(ctx context.Context, d time.Duration) error
}
