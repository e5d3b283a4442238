// Package models provides the entity shapes held by the state containers.
package models

// Status is the lifecycle state of an entry as the client sees it.
type Status string

const (
	// StatusPending marks an optimistic entry the backend has not confirmed.
	StatusPending Status = "pending"
	// StatusComplete marks a confirmed post whose media is fully attached.
	StatusComplete Status = "complete"
	// StatusFailed marks an optimistic entry whose create call failed.
	StatusFailed Status = "failed"

	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// MediaRef is either a displayable locator or a content-address token.
type MediaRef string

// Item is what a timeline container can hold: something with a stable key
// and a creation time usable as a pagination cursor.
type Item interface {
	Key() string
	Created() int64
}

// Entry is the shape shared by messages, feed items and wall posts.
//
// ID is the backend id once confirmed and the placeholder before that.
// PlaceholderID keeps the locally minted id after confirmation so that
// lookups by either id resolve during the transition window.
type Entry struct {
	ID            string     `json:"id"`
	PlaceholderID string     `json:"-"`
	Author        string     `json:"author"`
	Content       string     `json:"content"`
	CreatedAt     int64      `json:"created_at"`
	Status        Status     `json:"status,omitempty"`
	Media         []MediaRef `json:"media,omitempty"`
}

// Key returns the entry's current id.
func (e Entry) Key() string {
	return e.ID
}

// Created returns the creation time in unix milliseconds.
func (e Entry) Created() int64 {
	return e.CreatedAt
}

// Pending reports whether the entry still carries its placeholder id.
func (e Entry) Pending() bool {
	return e.PlaceholderID != "" && e.ID == e.PlaceholderID
}

// Matches reports whether id names this entry by either identifier.
func (e Entry) Matches(id string) bool {
	return id != "" && (e.ID == id || e.PlaceholderID == id)
}
