package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on daemon shutdown so in-flight handler work
// (a staleness refresh inside /route, for one) stops with the process.
// Background until serve installs its own.
var serverBaseCtx = context.Background()

// SetBaseContext installs the daemon lifetime context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context canceled when either a or b is done. Callers
// must invoke cancel when the handler returns to release the watch goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}
