package client

import (
	"context"

	"github.com/kimhsiao/peerwall/core/internal/alerts"
	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/chat"
	"github.com/kimhsiao/peerwall/core/internal/feed"
	"github.com/kimhsiao/peerwall/core/internal/guard"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/network"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

// Router merges backend push events into the containers and decides
// whether each arrival alerts.
type Router struct {
	ctx     context.Context
	chat    *chat.Store
	feed    *feed.Store
	network *network.Tracker
	alerts  *alerts.Engine
	guard   *guard.Guard
	metrics *telemetry.Metrics
	log     *logging.Logger
}

// NewRouter creates a Router. Work that needs the backend runs on ctx via
// g.
func NewRouter(ctx context.Context, chatStore *chat.Store, feedStore *feed.Store, tracker *network.Tracker,
	engine *alerts.Engine, g *guard.Guard, metrics *telemetry.Metrics) *Router {
	if metrics == nil {
		metrics = telemetry.Default()
	}
	return &Router{
		ctx:     ctx,
		chat:    chatStore,
		feed:    feedStore,
		network: tracker,
		alerts:  engine,
		guard:   g,
		metrics: metrics,
		log:     logging.Component("router"),
	}
}

// Attach subscribes the router to src and returns the unsubscribe func.
func (r *Router) Attach(src bridge.EventSource) func() {
	return src.Subscribe(r.Handle)
}

// Handle routes one event. It never blocks on the backend.
func (r *Router) Handle(ev bridge.Event) {
	r.metrics.EventsReceived.WithLabelValues(ev.Type).Inc()

	switch ev.Type {
	case bridge.EventMessageIncoming:
		var msg models.Message
		if !r.decode(ev, &msg) {
			return
		}
		if !r.chat.ApplyIncoming(msg) {
			return
		}
		if !msg.Outgoing {
			r.alerts.MaybeNotify(alerts.CategoryMessage, msg.Peer)
		}
		r.guard.Go("unread recount", func() error {
			if err := r.chat.RefreshConversation(r.ctx, msg.Peer); err != nil {
				r.log.Warn("unread recount failed", logging.Fields{"peer": msg.Peer, "error": err.Error()})
			}
			return nil
		})

	case bridge.EventMessageStatus:
		var update models.StatusUpdate
		if !r.decode(ev, &update) {
			return
		}
		if !r.chat.ApplyStatus(update) {
			r.log.Debug("status for unloaded message", logging.Fields{"id": update.ID})
		}

	case bridge.EventPostIncoming:
		var post models.Post
		if r.decode(ev, &post) && r.feed.ApplyIncoming(post) {
			r.alerts.MaybeNotify(alerts.CategoryPost, "")
		}

	case bridge.EventBoardPost:
		var post models.Post
		if r.decode(ev, &post) && r.feed.ApplyIncoming(post) {
			r.alerts.MaybeNotify(alerts.CategoryBoardPost, post.Board)
		}

	case bridge.EventRelayStatus:
		var relay bridge.RelayStatusEvent
		if r.decode(ev, &relay) {
			r.network.ApplyRelay(relay)
		}

	case bridge.EventPeerConnected, bridge.EventPeerDisconnected:
		var peer bridge.PeerEvent
		if r.decode(ev, &peer) {
			r.network.ApplyPeer(peer, ev.Type == bridge.EventPeerConnected)
		}

	default:
		r.log.Debug("ignoring event", logging.Fields{"type": ev.Type})
	}
}

func (r *Router) decode(ev bridge.Event, v any) bool {
	if err := ev.Decode(v); err != nil {
		r.log.Warn("malformed event", logging.Fields{"type": ev.Type, "error": err.Error()})
		return false
	}
	return true
}
