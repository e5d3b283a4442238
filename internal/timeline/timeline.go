// Package timeline is the generic optimistic container behind the chat,
// feed and wall stores: a newest-first list of entries with backward
// pagination, local-first inserts and edits, and placeholder ids that are
// swapped for backend ids in place.
package timeline

import (
	"context"
	"sync"

	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
	"github.com/kimhsiao/peerwall/core/internal/ids"
	"github.com/kimhsiao/peerwall/core/internal/models"
)

// Fetch loads one page of at most limit items created strictly before
// before (unix millis). before is zero for the first page.
type Fetch[T models.Item] func(ctx context.Context, before int64, limit int) ([]T, error)

// State is a read-only snapshot. Entries is shared with the timeline and
// must not be modified; every mutation installs a fresh slice.
type State[T models.Item] struct {
	Entries   []T
	IsLoading bool
	Error     *apperrors.AppError
	HasMore   bool
}

// Timeline holds one ordered collection.
type Timeline[T models.Item] struct {
	fetch Fetch[T]

	mu        sync.Mutex
	entries   []T
	loading   bool
	err       *apperrors.AppError
	hasMore   bool
	gen       uint64
	aliases   map[string]string
	listeners []func()
}

// New creates an empty Timeline paging through fetch.
func New[T models.Item](fetch Fetch[T]) *Timeline[T] {
	return &Timeline[T]{
		fetch:   fetch,
		hasMore: true,
		aliases: make(map[string]string),
	}
}

// State returns the current snapshot.
func (t *Timeline[T]) State() State[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State[T]{Entries: t.entries, IsLoading: t.loading, Error: t.err, HasMore: t.hasMore}
}

// Entries returns the current entries, newest first.
func (t *Timeline[T]) Entries() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries
}

// OnChange registers fn to run after every state transition.
func (t *Timeline[T]) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Load replaces the entries with the first page. Entries still carrying a
// placeholder id stay on top so that in-flight creates are not lost. On
// failure the error is recorded and the entries are left as they were.
func (t *Timeline[T]) Load(ctx context.Context, pageSize int) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.loading = true
	t.mu.Unlock()
	t.notify()

	page, err := t.fetch(ctx, 0, pageSize)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return nil
	}
	t.loading = false
	if err != nil {
		t.err = apperrors.Normalize(err)
		t.mu.Unlock()
		t.notify()
		return t.err
	}

	next := make([]T, 0, len(page))
	seen := make(map[string]bool, len(page))
	for _, item := range page {
		seen[item.Key()] = true
	}
	for _, item := range t.entries {
		if ids.IsPlaceholder(item.Key()) && !seen[item.Key()] {
			next = append(next, item)
		}
	}
	t.entries = append(next, page...)
	t.hasMore = len(page) == pageSize
	t.err = nil
	t.mu.Unlock()
	t.notify()
	return nil
}

// LoadMore appends the page older than the oldest loaded entry. It does
// nothing while a load is in flight or when the history is exhausted.
func (t *Timeline[T]) LoadMore(ctx context.Context, pageSize int) error {
	t.mu.Lock()
	if t.loading || !t.hasMore {
		t.mu.Unlock()
		return nil
	}
	t.loading = true
	gen := t.gen
	cursor := t.cursorLocked()
	t.mu.Unlock()
	t.notify()

	page, err := t.fetch(ctx, cursor, pageSize)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return nil
	}
	t.loading = false
	if err != nil {
		t.err = apperrors.Normalize(err)
		t.mu.Unlock()
		t.notify()
		return t.err
	}

	seen := make(map[string]bool, len(t.entries))
	for _, item := range t.entries {
		seen[item.Key()] = true
	}
	next := make([]T, len(t.entries), len(t.entries)+len(page))
	copy(next, t.entries)
	for _, item := range page {
		if !seen[item.Key()] {
			next = append(next, item)
		}
	}
	t.entries = next
	t.hasMore = len(page) == pageSize
	t.err = nil
	t.mu.Unlock()
	t.notify()
	return nil
}

// Cursor returns the creation time of the oldest loaded entry, or zero
// when nothing is loaded.
func (t *Timeline[T]) Cursor() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursorLocked()
}

func (t *Timeline[T]) cursorLocked() int64 {
	var oldest int64
	for i, item := range t.entries {
		if c := item.Created(); i == 0 || c < oldest {
			oldest = c
		}
	}
	return oldest
}

// Prepend inserts item at index 0.
func (t *Timeline[T]) Prepend(item T) {
	t.mu.Lock()
	next := make([]T, 0, len(t.entries)+1)
	next = append(next, item)
	t.entries = append(next, t.entries...)
	t.mu.Unlock()
	t.notify()
}

// InsertUnique places item newest-first by creation time, after any
// entries created at the same instant, unless an entry with its key is
// already present. It reports whether item was inserted.
func (t *Timeline[T]) InsertUnique(item T) bool {
	t.mu.Lock()
	if t.indexLocked(item.Key()) >= 0 {
		t.mu.Unlock()
		return false
	}
	at := len(t.entries)
	for i, e := range t.entries {
		if e.Created() < item.Created() {
			at = i
			break
		}
	}
	next := make([]T, 0, len(t.entries)+1)
	next = append(next, t.entries[:at]...)
	next = append(next, item)
	t.entries = append(next, t.entries[at:]...)
	t.mu.Unlock()
	t.notify()
	return true
}

// Confirm applies fn to the entry with placeholderID. fn returns the entry
// carrying its backend id; afterwards the placeholder resolves to it.
func (t *Timeline[T]) Confirm(placeholderID string, fn func(T) T) (T, bool) {
	t.mu.Lock()
	i := t.indexLocked(placeholderID)
	if i < 0 {
		t.mu.Unlock()
		var zero T
		return zero, false
	}

	updated := fn(t.entries[i])
	if updated.Key() != placeholderID {
		t.aliases[placeholderID] = updated.Key()
	}

	next := make([]T, 0, len(t.entries))
	for j, item := range t.entries {
		switch {
		case j == i:
			next = append(next, updated)
		case item.Key() == updated.Key():
			// A push event already delivered the confirmed entry.
		default:
			next = append(next, item)
		}
	}
	t.entries = next
	t.mu.Unlock()
	t.notify()
	return updated, true
}

// Patch replaces the entry named id with fn(entry). It returns the entry
// as it was before, for rollback.
func (t *Timeline[T]) Patch(id string, fn func(T) T) (T, bool) {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		var zero T
		return zero, false
	}
	prev := t.entries[i]
	next := make([]T, len(t.entries))
	copy(next, t.entries)
	next[i] = fn(prev)
	t.entries = next
	t.mu.Unlock()
	t.notify()
	return prev, true
}

// Replace swaps the entry named id for item.
func (t *Timeline[T]) Replace(id string, item T) bool {
	_, ok := t.Patch(id, func(T) T { return item })
	return ok
}

// PatchAll applies fn to every entry; fn reports whether it changed one.
func (t *Timeline[T]) PatchAll(fn func(T) (T, bool)) int {
	t.mu.Lock()
	var next []T
	changed := 0
	for i, item := range t.entries {
		updated, ok := fn(item)
		if !ok {
			continue
		}
		if next == nil {
			next = make([]T, len(t.entries))
			copy(next, t.entries)
		}
		next[i] = updated
		changed++
	}
	if next != nil {
		t.entries = next
	}
	t.mu.Unlock()
	if changed > 0 {
		t.notify()
	}
	return changed
}

// Remove deletes the entry named id and returns it.
func (t *Timeline[T]) Remove(id string) (T, bool) {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		var zero T
		return zero, false
	}
	removed := t.entries[i]
	next := make([]T, 0, len(t.entries)-1)
	next = append(next, t.entries[:i]...)
	t.entries = append(next, t.entries[i+1:]...)
	t.mu.Unlock()
	t.notify()
	return removed, true
}

// Find returns the entry named id, resolving placeholder ids.
func (t *Timeline[T]) Find(id string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexLocked(id); i >= 0 {
		return t.entries[i], true
	}
	var zero T
	return zero, false
}

// Resolve maps a placeholder id to its confirmed id, if any.
func (t *Timeline[T]) Resolve(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveLocked(id)
}

// SetError records err as the container error.
func (t *Timeline[T]) SetError(err error) {
	t.mu.Lock()
	if err == nil {
		t.err = nil
	} else {
		t.err = apperrors.Normalize(err)
	}
	t.mu.Unlock()
	t.notify()
}

// Reset drops every entry and any in-flight page; the next LoadMore is
// allowed again.
func (t *Timeline[T]) Reset() {
	t.mu.Lock()
	t.gen++
	t.entries = nil
	t.loading = false
	t.err = nil
	t.hasMore = true
	t.aliases = make(map[string]string)
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline[T]) resolveLocked(id string) string {
	if confirmed, ok := t.aliases[id]; ok {
		return confirmed
	}
	return id
}

func (t *Timeline[T]) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	key := t.resolveLocked(id)
	for i, item := range t.entries {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

func (t *Timeline[T]) notify() {
	t.mu.Lock()
	listeners := t.listeners
	t.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
