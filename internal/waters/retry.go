package waters

import (
	"context"
	"fmt"
)

// RetryExhaustedError is the terminal failure returned once the attempt
// budget runs out. Attempts records how many calls were actually made.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// retry runs op up to maxAttempts times with no delay between attempts,
// returning the first success. op reports whether its failure is retryable;
// non-retryable errors surface immediately. Context cancellation stops the
// loop between attempts.
func retry[T any](ctx context.Context, maxAttempts int, op func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	var last error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, retryable, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return zero, err
		}
		last = err
	}

	return zero, &RetryExhaustedError{Attempts: maxAttempts, Last: last}
}
