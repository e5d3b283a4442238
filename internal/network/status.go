// Package network tracks the peer network as the backend reports it: relay
// and NAT status, connected peers, and the start/stop controls.
package network

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/models"
)

// Status is the last known state of the node's network.
type Status struct {
	Running   bool
	Relay     string
	RelayAddr string
	NATType   string
	Peers     []models.Peer
	Stats     bridge.NetworkStats
	UpdatedAt time.Time
	Error     *apperrors.AppError
}

// Tracker merges network commands and push events into one Status.
type Tracker struct {
	doer invoke.Doer
	log  *logging.Logger
	now  func() time.Time

	mu        sync.Mutex
	running   bool
	relay     string
	relayAddr string
	natType   string
	peers     map[string]models.Peer
	stats     bridge.NetworkStats
	updatedAt time.Time
	err       *apperrors.AppError
	listeners []func()
}

// NewTracker creates an empty Tracker.
func NewTracker(doer invoke.Doer) *Tracker {
	return &Tracker{
		doer:  doer,
		log:   logging.Component("network"),
		now:   time.Now,
		peers: make(map[string]models.Peer),
	}
}

// OnChange registers fn to run after every change.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Tracker) changed() {
	t.mu.Lock()
	listeners := t.listeners
	t.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Status returns a snapshot. Peers are sorted by id.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := make([]models.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return Status{
		Running:   t.running,
		Relay:     t.relay,
		RelayAddr: t.relayAddr,
		NATType:   t.natType,
		Peers:     peers,
		Stats:     t.stats,
		UpdatedAt: t.updatedAt,
		Error:     t.err,
	}
}

// Start asks the backend to join the network.
func (t *Tracker) Start(ctx context.Context) error {
	return t.toggle(ctx, bridge.CmdNetworkStart, true)
}

// Stop asks the backend to leave the network.
func (t *Tracker) Stop(ctx context.Context) error {
	return t.toggle(ctx, bridge.CmdNetworkStop, false)
}

func (t *Tracker) toggle(ctx context.Context, command string, running bool) error {
	if err := t.doer.Invoke(ctx, command, nil, nil); err != nil {
		t.setError(err)
		return err
	}
	t.mu.Lock()
	t.running = running
	t.err = nil
	if !running {
		t.peers = make(map[string]models.Peer)
	}
	t.updatedAt = t.now()
	t.mu.Unlock()
	t.changed()
	return nil
}

// Refresh queries the peer list and the counters.
func (t *Tracker) Refresh(ctx context.Context) error {
	var peers []models.Peer
	if err := t.doer.Invoke(ctx, bridge.CmdNetworkPeers, nil, &peers, invoke.Notify(false)); err != nil {
		t.setError(err)
		return err
	}
	var stats bridge.NetworkStats
	if err := t.doer.Invoke(ctx, bridge.CmdNetworkStats, nil, &stats, invoke.Notify(false)); err != nil {
		t.setError(err)
		return err
	}

	t.mu.Lock()
	t.peers = make(map[string]models.Peer, len(peers))
	for _, p := range peers {
		t.peers[p.ID] = p
	}
	t.stats = stats
	t.running = stats.Running
	if stats.RelayStatus != "" {
		t.relay = stats.RelayStatus
	}
	if stats.NATType != "" {
		t.natType = stats.NATType
	}
	t.err = nil
	t.updatedAt = t.now()
	t.mu.Unlock()
	t.changed()
	return nil
}

func (t *Tracker) setError(err error) {
	t.mu.Lock()
	t.err = apperrors.Normalize(err)
	t.mu.Unlock()
	t.changed()
}

// ApplyRelay merges a relay.status event.
func (t *Tracker) ApplyRelay(ev bridge.RelayStatusEvent) {
	t.mu.Lock()
	t.relay = ev.Status
	t.relayAddr = ev.Relay
	if ev.NATType != "" {
		t.natType = ev.NATType
	}
	t.updatedAt = t.now()
	t.mu.Unlock()
	t.log.Debug("relay status", logging.Fields{"status": ev.Status, "nat": ev.NATType})
	t.changed()
}

// ApplyPeer merges a peer.connected or peer.disconnected event.
func (t *Tracker) ApplyPeer(ev bridge.PeerEvent, connected bool) {
	if ev.Peer == "" {
		return
	}
	t.mu.Lock()
	if connected {
		p := t.peers[ev.Peer]
		p.ID = ev.Peer
		p.Connected = true
		if ev.Name != "" {
			p.Name = ev.Name
		}
		t.peers[ev.Peer] = p
	} else {
		delete(t.peers, ev.Peer)
	}
	t.stats.ConnectedPeers = len(t.peers)
	t.updatedAt = t.now()
	t.mu.Unlock()
	t.changed()
}
