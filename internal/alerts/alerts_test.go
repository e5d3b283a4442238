package alerts

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kimhsiao/peerwall/core/internal/telemetry"
	"github.com/kimhsiao/peerwall/core/internal/viewstate"
)

type recorder struct {
	played []Cue
}

func (r *recorder) Play(cue Cue) error {
	r.played = append(r.played, cue)
	return nil
}

func newEngine(view *viewstate.Coordinator, player CuePlayer) *Engine {
	return NewEngine(view, player, Options{SoundEnabled: true, Metrics: telemetry.New()})
}

func TestMaybeNotify_message(t *testing.T) {
	view := viewstate.New()
	player := &recorder{}
	e := newEngine(view, player)

	view.SetActiveConversation("P")
	assert.False(t, e.MaybeNotify(CategoryMessage, "P"), "active conversation suppresses")
	assert.Empty(t, player.played)

	view.SetActiveConversation("Q")
	assert.True(t, e.MaybeNotify(CategoryMessage, "P"))

	view.SetActiveConversation("")
	assert.True(t, e.MaybeNotify(CategoryMessage, "P"))

	assert.Equal(t, []Cue{CueMessage, CueMessage}, player.played)
}

func TestSuppressed(t *testing.T) {
	tests := []struct {
		name     string
		view     viewstate.View
		category Category
		key      string
		want     bool
	}{
		{"post on feed", viewstate.View{Route: viewstate.RouteFeed}, CategoryPost, "", true},
		{"post elsewhere", viewstate.View{Route: viewstate.RouteWall}, CategoryPost, "", false},
		{"board post off boards", viewstate.View{Route: viewstate.RouteFeed, ActiveBoard: "b"}, CategoryBoardPost, "b", false},
		{"board post, unknown board", viewstate.View{Route: viewstate.RouteBoards, ActiveBoard: "b"}, CategoryBoardPost, "", true},
		{"board post, no active board", viewstate.View{Route: viewstate.RouteBoards}, CategoryBoardPost, "b", true},
		{"board post, same board", viewstate.View{Route: viewstate.RouteBoards, ActiveBoard: "b"}, CategoryBoardPost, "b", true},
		{"board post, other board", viewstate.View{Route: viewstate.RouteBoards, ActiveBoard: "a"}, CategoryBoardPost, "b", false},
		{"message with no active conversation", viewstate.View{}, CategoryMessage, "", false},
		{"unknown category", viewstate.View{Route: viewstate.RouteFeed}, Category("other"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(viewstate.Static(tt.view), &recorder{}, Options{SoundEnabled: true, Metrics: telemetry.New()})
			assert.Equal(t, tt.want, e.Suppressed(tt.category, tt.key))
		})
	}
}

func TestMaybeNotify_soundDisabled(t *testing.T) {
	player := &recorder{}
	m := telemetry.New()
	e := NewEngine(viewstate.New(), player, Options{SoundEnabled: false, Metrics: m})

	assert.False(t, e.MaybeNotify(CategoryPost, ""))
	e.SetSoundEnabled(true)
	assert.True(t, e.MaybeNotify(CategoryPost, ""))

	assert.Equal(t, []Cue{CuePost}, player.played)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertCues.WithLabelValues(string(CategoryPost), telemetry.CueMuted)))
}

func TestMaybeNotify_rateLimited(t *testing.T) {
	player := &recorder{}
	e := NewEngine(viewstate.New(), player, Options{SoundEnabled: true, CuesPerSecond: 0.001, Burst: 2, Metrics: telemetry.New()})

	played := 0
	for i := 0; i < 5; i++ {
		if e.MaybeNotify(CategoryBoardPost, "b") {
			played++
		}
	}
	assert.Equal(t, 2, played)
}

func TestMaybeNotify_playerFailure(t *testing.T) {
	e := newEngine(viewstate.New(), PlayerFunc(func(Cue) error { return errors.New("no audio device") }))
	assert.False(t, e.MaybeNotify(CategoryMessage, "P"))
}
