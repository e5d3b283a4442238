package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/bridge/bridgetest"
	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
	"github.com/kimhsiao/peerwall/core/internal/ids"
	"github.com/kimhsiao/peerwall/core/internal/models"
)

func post(id string, created, updated int64, content string) models.Post {
	return models.Post{Entry: models.Entry{ID: id, CreatedAt: created, Content: content}, UpdatedAt: updated}
}

func newTestStore(backend *bridgetest.Backend, hooks Hooks) *Store {
	s := New(backend.Invoker(), nil, bridge.ScopeFeed, 2, hooks)
	s.SetClock(func() time.Time { return time.UnixMilli(1_000) })
	return s
}

// TestApplyIncoming verifies that a pushed post is inserted by creation
// time and that a copy already held is replaced only by a later update.
func TestApplyIncoming(t *testing.T) {
	tests := []struct {
		name        string
		incoming    models.Post
		wantNew     bool
		wantContent string
		wantOrder   []string
	}{
		{"new post on top", post("p9", 9, 0, "nine"), true, "nine", []string{"p9", "p5", "p3"}},
		{"new older post", post("p4", 4, 0, "four"), true, "four", []string{"p5", "p4", "p3"}},
		{"later edit wins", post("p5", 5, 60, "edited"), false, "edited", []string{"p5", "p3"}},
		{"same update kept", post("p5", 5, 50, "same"), false, "five", []string{"p5", "p3"}},
		{"stale edit loses", post("p5", 5, 40, "stale"), false, "five", []string{"p5", "p3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(bridgetest.New(), Hooks{})
			s.ApplyIncoming(post("p3", 3, 0, "three"))
			s.ApplyIncoming(post("p5", 5, 50, "five"))

			if got := s.ApplyIncoming(tt.incoming); got != tt.wantNew {
				t.Errorf("ApplyIncoming() = %v, want %v", got, tt.wantNew)
			}
			found, ok := s.Find(tt.incoming.ID)
			if !ok {
				t.Fatalf("post %s not found", tt.incoming.ID)
			}
			if found.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", found.Content, tt.wantContent)
			}

			entries := s.State().Entries
			if len(entries) != len(tt.wantOrder) {
				t.Fatalf("len(entries) = %d, want %d", len(entries), len(tt.wantOrder))
			}
			for i, id := range tt.wantOrder {
				if entries[i].ID != id {
					t.Errorf("entries[%d] = %s, want %s", i, entries[i].ID, id)
				}
			}
		})
	}
}

// TestApplyIncoming_keepsLocalStatus verifies that a pushed copy without a
// status does not clear the local one.
func TestApplyIncoming_keepsLocalStatus(t *testing.T) {
	s := newTestStore(bridgetest.New(), Hooks{})
	held := post("p1", 1, 10, "v1")
	held.Status = models.StatusFailed
	s.ApplyIncoming(held)

	s.ApplyIncoming(post("p1", 1, 20, "v2"))
	got, _ := s.Find("p1")
	if got.Content != "v2" || got.Status != models.StatusFailed {
		t.Errorf("got content %q status %q, want v2 and failed", got.Content, got.Status)
	}
}

// TestDelete_unconfirmedPlaceholderIsLocal verifies that a post whose
// create failed is removed without a backend call.
func TestDelete_unconfirmedPlaceholderIsLocal(t *testing.T) {
	backend := bridgetest.New()
	backend.Fail(bridge.CmdPostCreate, errors.New("connection refused"))
	var removed []string
	s := newTestStore(backend, Hooks{Removed: func(id string) { removed = append(removed, id) }})

	failed, err := s.Create(context.Background(), "draft", nil)
	if err == nil {
		t.Fatal("expected create to fail")
	}
	if !ids.IsPlaceholder(failed.ID) || failed.Status != models.StatusFailed {
		t.Fatalf("expected a failed placeholder, got %+v", failed.Entry)
	}

	if err := s.Delete(context.Background(), failed.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n := backend.Calls(bridge.CmdPostDelete); n != 0 {
		t.Errorf("post.delete called %d times, want 0", n)
	}
	if len(s.State().Entries) != 0 {
		t.Errorf("expected the placeholder gone, got %d entries", len(s.State().Entries))
	}
	if len(removed) != 1 || removed[0] != failed.ID {
		t.Errorf("Removed hook got %v", removed)
	}
}

// TestDelete_confirmedIsNotRolledBack verifies that a rejected delete
// leaves the post removed and records the error.
func TestDelete_confirmedIsNotRolledBack(t *testing.T) {
	backend := bridgetest.New()
	backend.Fail(bridge.CmdPostDelete, errors.New("permission denied"))
	s := newTestStore(backend, Hooks{})
	s.ApplyIncoming(post("p1", 1, 0, "x"))

	if err := s.Delete(context.Background(), "p1"); err == nil {
		t.Fatal("expected delete to fail")
	}
	if _, ok := s.Find("p1"); ok {
		t.Error("deleted post came back")
	}
	if st := s.State(); st.Error == nil || st.Error.Kind != apperrors.KindPermission {
		t.Errorf("State().Error = %v, want permission_denied", st.Error)
	}
}

// TestUpdate_rejectsUnknownTargets verifies the errors for a post that is
// not created yet or not loaded.
func TestUpdate_rejectsUnknownTargets(t *testing.T) {
	backend := bridgetest.New()
	backend.Fail(bridge.CmdPostCreate, errors.New("timed out"))
	s := newTestStore(backend, Hooks{})
	failed, _ := s.Create(context.Background(), "draft", nil)

	tests := []struct {
		name string
		id   string
		want apperrors.Kind
	}{
		{"placeholder", failed.ID, apperrors.KindValidation},
		{"missing", "nope", apperrors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Update(context.Background(), tt.id, "new")
			if got := apperrors.KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
	if n := backend.Calls(bridge.CmdPostUpdate); n != 0 {
		t.Errorf("post.update called %d times, want 0", n)
	}
}

// TestHooks verifies that Paged runs once per fetched page and Confirmed
// runs with both ids of a created post.
func TestHooks(t *testing.T) {
	backend := bridgetest.New()
	backend.Handle(bridge.CmdPostList, func(args json.RawMessage) (any, error) {
		var a bridge.PostListArgs
		_ = json.Unmarshal(args, &a)
		page := []models.Post{}
		for at := int64(3); at >= 1 && len(page) < a.Limit; at-- {
			if a.Before != 0 && at >= a.Before {
				continue
			}
			page = append(page, post(fmt.Sprintf("p%d", at), at, 0, ""))
		}
		return page, nil
	})
	backend.Reply(bridge.CmdPostCreate, bridge.PostCreateResult{ID: "srv-1", CreatedAt: 1_001})

	paged := 0
	var confirmed [2]string
	s := newTestStore(backend, Hooks{
		Paged:     func(context.Context) { paged++ },
		Confirmed: func(placeholder, id string) { confirmed = [2]string{placeholder, id} },
	})
	ctx := context.Background()

	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore() error = %v", err)
	}
	if err := s.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore() error = %v", err)
	}
	if n := backend.Calls(bridge.CmdPostList); n != 2 || paged != 2 {
		t.Errorf("Paged ran %d times for %d fetched pages, want 2 for 2", paged, n)
	}

	created, err := s.Create(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !ids.IsPlaceholder(confirmed[0]) || confirmed[1] != "srv-1" || created.ID != "srv-1" {
		t.Errorf("Confirmed hook got %v, created %s", confirmed, created.ID)
	}
	if created.Status != models.StatusComplete {
		t.Errorf("Status = %s, want complete", created.Status)
	}
	if got := s.Resolve(confirmed[0]); got != "srv-1" {
		t.Errorf("Resolve(placeholder) = %s, want srv-1", got)
	}
}
