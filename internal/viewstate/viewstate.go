// Package viewstate tracks what the user is looking at right now. The
// rendering layer writes it on every focus change; everything else reads.
// Nothing here is persisted.
package viewstate

import "sync"

// Route is a top-level screen.
type Route string

const (
	RouteNone          Route = ""
	RouteConversations Route = "conversations"
	RouteFeed          Route = "feed"
	RouteWall          Route = "wall"
	RouteBoards        Route = "boards"
	RouteSettings      Route = "settings"
)

// View is a snapshot of the view-state.
type View struct {
	ActiveConversation string
	ActiveBoard        string
	Route              Route
}

// Reader is the read-only side handed to consumers.
type Reader interface {
	Snapshot() View
}

// Coordinator holds the current View.
type Coordinator struct {
	mu   sync.RWMutex
	view View
}

// New creates a Coordinator with nothing active.
func New() *Coordinator {
	return &Coordinator{}
}

var defaultCoordinator = New()

// Default returns the process-wide Coordinator.
func Default() *Coordinator {
	return defaultCoordinator
}

// Snapshot returns the current view.
func (c *Coordinator) Snapshot() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// SetActiveConversation selects a conversation peer, or none with "".
func (c *Coordinator) SetActiveConversation(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.ActiveConversation = peer
}

// SetActiveBoard selects a board, or none with "".
func (c *Coordinator) SetActiveBoard(board string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.ActiveBoard = board
}

// SetRoute changes the top-level screen.
func (c *Coordinator) SetRoute(route Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Route = route
}

// Reset clears everything, as on process start.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = View{}
}

// Static is a fixed Reader for tests and previews.
type Static View

// Snapshot implements Reader.
func (s Static) Snapshot() View {
	return View(s)
}
