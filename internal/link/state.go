package link

import (
	"strconv"
	"strings"
	"time"
)

// State is the connection lifecycle phase. At most one physical socket
// is open at a time; a connect attempt is only made from Disconnected
// outside any suspension window.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Suspended
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Suspended:
		return "suspended"
	default:
		return "disconnected"
	}
}

// Close codes the hub uses to classify a disconnect. Codes in the 4xxx
// range are application-defined per RFC 6455.
const (
	CloseUnauthorized    = 4401
	CloseRateLimited     = 4429
	CloseServiceDisabled = 4503
)

// retryAfterMarker prefixes the cooldown seconds the hub may embed in a
// rate-limit close reason, e.g. "too many connections retry_after=120".
const retryAfterMarker = "retry_after="

const (
	unauthorizedCooldown    = 10 * time.Minute
	rateLimitedCooldown     = 900 * time.Second
	serviceDisabledCooldown = 30 * time.Second

	maxBackoffAttempt = 6
	maxBackoffDelay   = 10 * time.Second
)

// ReconnectDelay returns the capped exponential backoff for the given
// failed-attempt count: 1, 2, 4, 8 then flat 10 seconds. Deliberately
// not jittered; the hub tolerates modest reconnect storms and a 10s cap
// keeps recovery latency bounded.
func ReconnectDelay(attempt int) time.Duration {
	if attempt > maxBackoffAttempt {
		attempt = maxBackoffAttempt
	}
	delay := time.Duration(1<<attempt) * time.Second
	if delay > maxBackoffDelay {
		delay = maxBackoffDelay
	}
	return delay
}

// ClassifyClose maps a close code and reason onto a suspension window.
// A zero deadline means no forced suspension: go straight to reconnect
// scheduling.
func ClassifyClose(code int, reason string, now time.Time) time.Time {
	switch code {
	case CloseUnauthorized:
		// Credentials are wrong; retrying sooner wastes cycles and may
		// worsen rate limiting.
		return now.Add(unauthorizedCooldown)
	case CloseRateLimited:
		return now.Add(parseRetryAfter(reason))
	case CloseServiceDisabled:
		return now.Add(serviceDisabledCooldown)
	default:
		return time.Time{}
	}
}

func parseRetryAfter(reason string) time.Duration {
	idx := strings.Index(reason, retryAfterMarker)
	if idx < 0 {
		return rateLimitedCooldown
	}
	rest := reason[idx+len(retryAfterMarker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	secs, err := strconv.Atoi(rest[:end])
	if err != nil || secs <= 0 {
		return rateLimitedCooldown
	}
	return time.Duration(secs) * time.Second
}
