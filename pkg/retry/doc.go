// Package retry runs operations with bounded attempts and randomized
// exponential backoff. Only errors the predicate accepts are retried; by
// default that is errors classified as transient.
//
//	err := retry.Do(ctx, &retry.Config{
//		MaxAttempts: 6,
//		Backoff:     retry.DefaultExponentialBackoff(),
//		RetryIf:     retry.DefaultRetryIf,
//	}, func() error {
//		return fetch(ctx)
//	})
package retry
