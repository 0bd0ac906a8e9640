// Package retry provides exponential backoff retry for transient bus failures.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Ping(): 2 attempts, 50ms-250ms delay, used when testing candidate bus URLs
//   - Connect(): 10 attempts, 200ms-10s delay, used for the initial connection
//
// Wrap an error with NonRetryable to stop immediately, e.g. on an authorization
// failure that no amount of waiting will fix:
//
//	url, err := retry.DoWithResult(ctx, retry.Ping(), func() (string, error) {
//	    return ping(ctx, candidate)
//	})
package retry
