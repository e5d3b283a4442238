// Package alerts decides whether an arriving message or post should play an
// alert cue. The decision depends only on the view-state and the sound
// preference; the engine never touches container state.
package alerts

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
	"github.com/kimhsiao/peerwall/core/internal/viewstate"
)

// Category is a kind of arrival that can alert.
type Category string

const (
	CategoryMessage   Category = "message_arrived"
	CategoryPost      Category = "post_arrived"
	CategoryBoardPost Category = "board_post_arrived"
)

// Cue names the sound associated with a category.
type Cue string

const (
	CueMessage Cue = "message"
	CuePost    Cue = "post"
	CueBoard   Cue = "board"
)

var cues = map[Category]Cue{
	CategoryMessage:   CueMessage,
	CategoryPost:      CuePost,
	CategoryBoardPost: CueBoard,
}

// CuePlayer plays alert sounds.
type CuePlayer interface {
	Play(cue Cue) error
}

// PlayerFunc adapts a function to CuePlayer.
type PlayerFunc func(cue Cue) error

// Play implements CuePlayer.
func (f PlayerFunc) Play(cue Cue) error {
	return f(cue)
}

// Options configures an Engine.
type Options struct {
	SoundEnabled  bool
	CuesPerSecond float64
	Burst         int
	Metrics       *telemetry.Metrics
}

// Engine is the notification suppression engine.
type Engine struct {
	view    viewstate.Reader
	player  CuePlayer
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	log     *logging.Logger

	mu           sync.RWMutex
	soundEnabled bool
}

// NewEngine creates an Engine reading view and playing cues on player.
func NewEngine(view viewstate.Reader, player CuePlayer, opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Default()
	}
	limit := rate.Inf
	if opts.CuesPerSecond > 0 {
		limit = rate.Limit(opts.CuesPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Engine{
		view:         view,
		player:       player,
		limiter:      rate.NewLimiter(limit, burst),
		metrics:      opts.Metrics,
		log:          logging.Component("alerts"),
		soundEnabled: opts.SoundEnabled,
	}
}

// SetSoundEnabled changes the global sound preference.
func (e *Engine) SetSoundEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.soundEnabled = enabled
}

// SoundEnabled reports the global sound preference.
func (e *Engine) SoundEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.soundEnabled
}

// Suppressed reports whether the user can already see the arrival.
//
// contextKey is the message's counterpart peer for CategoryMessage and the
// post's board for CategoryBoardPost; it is ignored for CategoryPost.
func (e *Engine) Suppressed(category Category, contextKey string) bool {
	view := e.view.Snapshot()
	switch category {
	case CategoryMessage:
		return view.ActiveConversation != "" && view.ActiveConversation == contextKey
	case CategoryPost:
		return view.Route == viewstate.RouteFeed
	case CategoryBoardPost:
		if view.Route != viewstate.RouteBoards {
			return false
		}
		return contextKey == "" || view.ActiveBoard == "" || view.ActiveBoard == contextKey
	default:
		return false
	}
}

// MaybeNotify plays the category's cue unless the arrival is suppressed,
// sound is off or cues are arriving too fast. It reports whether a cue was
// played.
func (e *Engine) MaybeNotify(category Category, contextKey string) bool {
	cue, ok := cues[category]
	if !ok {
		e.log.Warn("unknown alert category", logging.Fields{"category": string(category)})
		return false
	}

	outcome := e.decide(category, contextKey)
	if outcome == telemetry.CuePlayed {
		if err := e.player.Play(cue); err != nil {
			e.log.Warn("failed to play cue", logging.Fields{"cue": string(cue), "error": err.Error()})
			outcome = telemetry.CueMuted
		}
	}
	e.metrics.AlertCues.WithLabelValues(string(category), outcome).Inc()
	return outcome == telemetry.CuePlayed
}

func (e *Engine) decide(category Category, contextKey string) string {
	switch {
	case e.Suppressed(category, contextKey):
		return telemetry.CueSuppressed
	case !e.SoundEnabled() || e.player == nil:
		return telemetry.CueMuted
	case !e.limiter.Allow():
		return telemetry.CueThrottled
	default:
		return telemetry.CuePlayed
	}
}
