package retry

import "fmt"

// ExhaustedError is returned once the retry budget is spent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v (retries exhausted after %d attempts); you can retry manually or continue without this artifact", e.Err, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// TerminalError is returned when an attempt fails in a way retrying cannot fix.
type TerminalError struct {
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%v (not retryable)", e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }
