// Package media turns media references into display-ready locators, stages
// picked files until the backend stores them, and uploads staged media for
// new posts.
package media

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

// TokenLength is the length of a content-address token (hex SHA-256).
const TokenLength = 64

// DefaultPassthroughPrefixes are locators the renderer can display as-is.
var DefaultPassthroughPrefixes = []string{
	HandlePrefix,
	"data:",
	"http://",
	"https://",
	"asset://",
	"file://",
}

// IsToken reports whether ref is a content-address token.
func IsToken(ref models.MediaRef) bool {
	if len(ref) != TokenLength {
		return false
	}
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// Resolving is what render-time consumers need from a Resolver.
type Resolving interface {
	Resolve(ctx context.Context, ref models.MediaRef) string
}

// Resolver maps media references to locators. Token resolutions are
// memoized for the life of the Resolver; tokens are content-derived so a
// successful resolution never goes stale.
type Resolver struct {
	doer     invoke.Doer
	prefixes []string
	metrics  *telemetry.Metrics
	log      *logging.Logger

	mu    sync.RWMutex
	memo  map[string]string
	group singleflight.Group
}

// NewResolver creates a Resolver. Empty prefixes select the defaults.
func NewResolver(doer invoke.Doer, prefixes []string, metrics *telemetry.Metrics) *Resolver {
	if len(prefixes) == 0 {
		prefixes = DefaultPassthroughPrefixes
	}
	if metrics == nil {
		metrics = telemetry.Default()
	}
	return &Resolver{
		doer:     doer,
		prefixes: prefixes,
		metrics:  metrics,
		log:      logging.Component("media"),
		memo:     make(map[string]string),
	}
}

// IsPassthrough reports whether ref is already displayable.
func (r *Resolver) IsPassthrough(ref models.MediaRef) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(string(ref), p) {
			return true
		}
	}
	return false
}

// Resolve returns a displayable locator for ref, or "" when the media is
// not available locally. It never fails: callers omit media that resolves
// to "".
func (r *Resolver) Resolve(ctx context.Context, ref models.MediaRef) string {
	if r.IsPassthrough(ref) {
		r.metrics.ResolverLookups.WithLabelValues(telemetry.LookupPassthrough).Inc()
		return string(ref)
	}
	if !IsToken(ref) {
		r.metrics.ResolverLookups.WithLabelValues(telemetry.LookupRejected).Inc()
		return ""
	}

	token := strings.ToLower(string(ref))
	if locator, ok := r.Cached(models.MediaRef(token)); ok {
		r.metrics.ResolverLookups.WithLabelValues(telemetry.LookupHit).Inc()
		return locator
	}

	v, _, _ := r.group.Do(token, func() (interface{}, error) {
		if locator, ok := r.Cached(models.MediaRef(token)); ok {
			return locator, nil
		}
		r.metrics.ResolverLookups.WithLabelValues(telemetry.LookupMiss).Inc()

		var res bridge.ResolveHashResult
		err := r.doer.Invoke(ctx, bridge.CmdMediaResolveHash,
			bridge.ResolveHashArgs{Hash: token}, &res, invoke.Notify(false))
		if err != nil || res.Locator == "" {
			r.metrics.ResolverLookups.WithLabelValues(telemetry.LookupFailed).Inc()
			if err != nil {
				r.log.Debug("media not available", logging.Fields{"hash": token, "error": err.Error()})
			}
			return "", nil
		}

		r.mu.Lock()
		r.memo[token] = res.Locator
		r.mu.Unlock()
		return res.Locator, nil
	})
	return v.(string)
}

// Cached returns the memoized locator for a token.
func (r *Resolver) Cached(ref models.MediaRef) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	locator, ok := r.memo[strings.ToLower(string(ref))]
	return locator, ok
}

// ResolveAll resolves refs in order and omits those that resolve to "".
func (r *Resolver) ResolveAll(ctx context.Context, refs []models.MediaRef) []string {
	return resolveAll(ctx, r, refs)
}

func resolveAll(ctx context.Context, r Resolving, refs []models.MediaRef) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		if locator := r.Resolve(ctx, ref); locator != "" {
			out = append(out, locator)
		}
	}
	return out
}
