package resilience

import "time"

// PolicyFromConfig builds the policy for op from the retry.* config keys.
// Non-positive values keep the defaults.
func PolicyFromConfig(op string, attempts, backoffMs, maxBackoffMs int) Policy {
	p := DefaultPolicy(op)
	if attempts > 0 {
		p.Attempts = attempts
	}
	if backoffMs > 0 {
		p.Backoff = time.Duration(backoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return p
}
