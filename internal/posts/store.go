// Package posts holds the post timeline shared by the feed and the wall:
// paging through post.list, optimistic create with the media pipeline,
// update with rollback and delete without.
package posts

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
	"github.com/kimhsiao/peerwall/core/internal/ids"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/media"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/timeline"
)

// Hooks let a domain store keep its auxiliary indices in step with the
// timeline. Every hook is optional.
type Hooks struct {
	// Paged runs after a page was fetched and merged.
	Paged func(ctx context.Context)
	// Confirmed runs after a placeholder id was swapped for id.
	Confirmed func(placeholderID, id string)
	// Removed runs after a post left the timeline.
	Removed func(id string)
}

// Store is one scope's post timeline.
type Store struct {
	doer     invoke.Doer
	uploader *media.Uploader
	scope    string
	pageSize int
	hooks    Hooks
	log      *logging.Logger
	now      func() time.Time

	timeline *timeline.Timeline[models.Post]
	pages    atomic.Uint64
}

// New creates a Store for scope (bridge.ScopeFeed or bridge.ScopeWall).
func New(doer invoke.Doer, uploader *media.Uploader, scope string, pageSize int, hooks Hooks) *Store {
	if uploader == nil {
		uploader = media.NewUploader(doer, nil)
	}
	s := &Store{
		doer:     doer,
		uploader: uploader,
		scope:    scope,
		pageSize: pageSize,
		hooks:    hooks,
		log:      logging.Component(scope),
		now:      time.Now,
	}
	s.timeline = timeline.New(s.fetch)
	return s
}

func (s *Store) fetch(ctx context.Context, before int64, limit int) ([]models.Post, error) {
	var page []models.Post
	err := s.doer.Invoke(ctx, bridge.CmdPostList, bridge.PostListArgs{
		Scope:    s.scope,
		PageArgs: bridge.PageArgs{Limit: limit, Before: before},
	}, &page)
	if err != nil {
		return nil, err
	}
	s.pages.Add(1)
	return page, nil
}

// SetClock replaces the clock used for optimistic timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Scope returns the scope the store pages through.
func (s *Store) Scope() string {
	return s.scope
}

// State returns the current snapshot.
func (s *Store) State() timeline.State[models.Post] {
	return s.timeline.State()
}

// OnChange registers fn to run after every change.
func (s *Store) OnChange(fn func()) {
	s.timeline.OnChange(fn)
}

// Find returns the post named id, resolving placeholder ids.
func (s *Store) Find(id string) (models.Post, bool) {
	return s.timeline.Find(id)
}

// Resolve maps a placeholder id to its confirmed id, if any.
func (s *Store) Resolve(id string) string {
	return s.timeline.Resolve(id)
}

// LoadedIDs returns the confirmed ids of every loaded post.
func (s *Store) LoadedIDs() []string {
	entries := s.timeline.Entries()
	out := make([]string, 0, len(entries))
	for _, p := range entries {
		if !ids.IsPlaceholder(p.ID) {
			out = append(out, p.ID)
		}
	}
	return out
}

// Load replaces the posts with the newest page.
func (s *Store) Load(ctx context.Context) error {
	return s.page(ctx, s.timeline.Load)
}

// LoadMore appends the next older page.
func (s *Store) LoadMore(ctx context.Context) error {
	return s.page(ctx, s.timeline.LoadMore)
}

func (s *Store) page(ctx context.Context, load func(context.Context, int) error) error {
	before := s.pages.Load()
	if err := load(ctx, s.pageSize); err != nil {
		return err
	}
	if s.pages.Load() != before && s.hooks.Paged != nil {
		s.hooks.Paged(ctx)
	}
	return nil
}

// Create shows the post at the top at once, creates the text on the
// backend, then stores and attaches each media ref in order. The post is
// complete only once every ref is attached. A failed create leaves the
// post visible marked failed.
func (s *Store) Create(ctx context.Context, content string, refs []models.MediaRef) (models.Post, error) {
	now := s.now()
	placeholder := ids.NewPlaceholder(now)
	post := models.Post{Entry: models.Entry{
		ID:            placeholder,
		PlaceholderID: placeholder,
		Content:       content,
		CreatedAt:     now.UnixMilli(),
		Status:        models.StatusPending,
		Media:         append([]models.MediaRef(nil), refs...),
	}}
	s.timeline.Prepend(post)

	var res bridge.PostCreateResult
	if err := s.doer.Invoke(ctx, bridge.CmdPostCreate, bridge.PostCreateArgs{
		Scope:   s.scope,
		Content: content,
	}, &res); err != nil {
		return s.markFailed(placeholder, err)
	}

	post, _ = s.timeline.Confirm(placeholder, func(p models.Post) models.Post {
		if res.ID != "" {
			p.ID = res.ID
		}
		if res.CreatedAt > 0 {
			p.CreatedAt = res.CreatedAt
		}
		return p
	})
	if post.ID != placeholder && s.hooks.Confirmed != nil {
		s.hooks.Confirmed(placeholder, post.ID)
	}

	stored, err := s.uploader.Attach(ctx, post.ID, refs)
	if err != nil {
		s.timeline.Patch(post.ID, func(p models.Post) models.Post {
			p.Media = append(stored, refs[len(stored):]...)
			return p
		})
		s.log.Error("media not attached", err, logging.Fields{"post": post.ID, "handled": len(stored), "total": len(refs)})
		return s.markFailed(post.ID, err)
	}
	if len(stored) == 0 {
		stored = nil
	}

	post, _ = s.timeline.Patch(post.ID, func(p models.Post) models.Post {
		p.Media = stored
		p.Status = models.StatusComplete
		return p
	})
	post.Media = stored
	post.Status = models.StatusComplete
	return post, nil
}

func (s *Store) markFailed(id string, err error) (models.Post, error) {
	failed, _ := s.timeline.Patch(id, func(p models.Post) models.Post {
		p.Status = models.StatusFailed
		return p
	})
	failed.Status = models.StatusFailed
	s.timeline.SetError(err)
	return failed, err
}

// Update replaces a post's text at once and confirms it. A rejected update
// restores the previous text.
func (s *Store) Update(ctx context.Context, id, content string) error {
	id = s.timeline.Resolve(id)
	if ids.IsPlaceholder(id) {
		return apperrors.New(apperrors.KindValidation, "post has not been created yet")
	}

	prev, ok := s.timeline.Patch(id, func(p models.Post) models.Post {
		p.Content = content
		p.UpdatedAt = s.now().UnixMilli()
		return p
	})
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "post not loaded")
	}

	var res bridge.PostUpdateResult
	if err := s.doer.Invoke(ctx, bridge.CmdPostUpdate, bridge.PostUpdateArgs{ID: id, Content: content}, &res); err != nil {
		s.timeline.Replace(id, prev)
		s.timeline.SetError(err)
		return err
	}
	if res.UpdatedAt > 0 {
		s.timeline.Patch(id, func(p models.Post) models.Post {
			p.UpdatedAt = res.UpdatedAt
			return p
		})
	}
	return nil
}

// Delete removes a post at once. A failed delete is not rolled back.
func (s *Store) Delete(ctx context.Context, id string) error {
	removed, ok := s.timeline.Remove(id)
	if ok {
		id = removed.ID
		if s.hooks.Removed != nil {
			s.hooks.Removed(id)
		}
		if ids.IsPlaceholder(id) {
			return nil
		}
	}

	if err := s.doer.Invoke(ctx, bridge.CmdPostDelete, bridge.PostRefArgs{PostID: id}, nil); err != nil {
		s.timeline.SetError(err)
		s.log.Warn("delete not confirmed", logging.Fields{"post": id, "error": err.Error()})
		return err
	}
	return nil
}

// ApplyIncoming merges a post pushed by the backend. A post already held
// is replaced only when the pushed copy was updated later (last write
// wins). It reports whether the post was new.
func (s *Store) ApplyIncoming(post models.Post) bool {
	if s.timeline.InsertUnique(post) {
		return true
	}
	s.timeline.Patch(post.ID, func(local models.Post) models.Post {
		if post.UpdatedAt <= local.UpdatedAt {
			return local
		}
		post.PlaceholderID = local.PlaceholderID
		if post.Status == "" {
			post.Status = local.Status
		}
		return post
	})
	return false
}

// Media lists the media recorded against a post on the backend.
func (s *Store) Media(ctx context.Context, id string) ([]models.MediaRef, error) {
	return s.uploader.List(ctx, s.timeline.Resolve(id))
}
