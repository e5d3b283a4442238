package invoke

import (
	"time"

	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
)

// kindBackoff scales the base retry delay for one error kind.
type kindBackoff struct {
	multiplier int64
	cap        time.Duration
}

// An unreachable backend gets a longer pause than a slow one.
var backoffByKind = map[apperrors.Kind]kindBackoff{
	apperrors.KindNetworkTimeout:     {multiplier: 1, cap: 30 * time.Second},
	apperrors.KindNetworkUnreachable: {multiplier: 2, cap: 60 * time.Second},
}

var defaultBackoff = kindBackoff{multiplier: 1, cap: 30 * time.Second}

// Backoff returns the wait before retry number attempt (0-based) after a
// failure of the given kind: base * multiplier * 2^attempt, capped by the
// kind's cap and, when positive, by max.
func Backoff(kind apperrors.Kind, base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	policy, ok := backoffByKind[kind]
	if !ok {
		policy = defaultBackoff
	}

	limit := policy.cap
	if max > 0 && max < limit {
		limit = max
	}

	delay := base * time.Duration(policy.multiplier)
	for i := 0; i < attempt; i++ {
		if delay >= limit {
			break
		}
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	return delay
}
