package engine

import "time"

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
)

// RetryPolicy bounds the execute call's retries. The wait before retry
// attempt n is BaseDelay × n (linear backoff).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
	}
}

func normalizeRetryPolicy(in RetryPolicy) RetryPolicy {
	out := in
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = defaultBaseDelay
	}
	return out
}

func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(attempt)
}
