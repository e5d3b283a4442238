// Package feed holds the social feed: posts from every followed peer, their
// comment counts and lazily loaded comment threads.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
	"github.com/kimhsiao/peerwall/core/internal/ids"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/media"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/posts"
)

// Contacts is the read-only view of the conversation list used for author
// names.
type Contacts interface {
	DisplayName(peer string) string
}

// Store is the feed container.
type Store struct {
	*posts.Store

	doer         invoke.Doer
	contacts     Contacts
	commentLimit int
	log          *logging.Logger
	now          func() time.Time

	mu         sync.Mutex
	counts     map[string]int
	comments   map[string][]models.Comment
	loaded     map[string]bool
	expanded   map[string]bool
	pending    map[string]bool
	commentErr *apperrors.AppError
	listeners  []func()
}

// New creates a feed Store. contacts may be nil.
func New(doer invoke.Doer, uploader *media.Uploader, contacts Contacts, pageSize, commentLimit int) *Store {
	s := &Store{
		doer:         doer,
		contacts:     contacts,
		commentLimit: commentLimit,
		log:          logging.Component("feed"),
		now:          time.Now,
		counts:       make(map[string]int),
		comments:     make(map[string][]models.Comment),
		loaded:       make(map[string]bool),
		expanded:     make(map[string]bool),
		pending:      make(map[string]bool),
	}
	s.Store = posts.New(doer, uploader, bridge.ScopeFeed, pageSize, posts.Hooks{
		Paged:     s.refreshCounts,
		Confirmed: s.rekey,
		Removed:   s.forget,
	})
	s.Store.OnChange(s.changed)
	return s
}

// SetClock replaces the clock used for optimistic timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
	s.Store.SetClock(now)
}

// OnChange registers fn to run after any post or comment change.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) changed() {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// AuthorName returns the name to show for a post's author.
func (s *Store) AuthorName(p models.Post) string {
	if p.AuthorName != "" {
		return p.AuthorName
	}
	if s.contacts != nil && p.Author != "" {
		return s.contacts.DisplayName(p.Author)
	}
	return p.Author
}

// =====================================================
// Comment counts
// =====================================================

// refreshCounts fetches the comment counts of every loaded post in one
// call.
func (s *Store) refreshCounts(ctx context.Context) {
	postIDs := s.LoadedIDs()
	if len(postIDs) == 0 {
		return
	}

	var counts map[string]int
	if err := s.doer.Invoke(ctx, bridge.CmdCommentCountBatch, bridge.CommentCountArgs{PostIDs: postIDs}, &counts, invoke.Notify(false)); err != nil {
		s.log.Warn("comment counts not refreshed", logging.Fields{"posts": len(postIDs), "error": err.Error()})
		return
	}

	s.mu.Lock()
	for id, n := range counts {
		s.counts[id] = n
	}
	s.mu.Unlock()
	s.changed()
}

// CommentCount returns the known comment count of a post.
func (s *Store) CommentCount(postID string) int {
	postID = s.Resolve(postID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[postID]
}

// =====================================================
// Comments
// =====================================================

// Comments returns a post's loaded comments, oldest first, and whether its
// thread is expanded.
func (s *Store) Comments(postID string) ([]models.Comment, bool) {
	postID = s.Resolve(postID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments[postID], s.expanded[postID]
}

// CommentsLoading reports whether a post's comments are being fetched.
func (s *Store) CommentsLoading(postID string) bool {
	postID = s.Resolve(postID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[postID]
}

// CommentError returns the last comment operation error.
func (s *Store) CommentError() *apperrors.AppError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commentErr
}

// ToggleComments expands or collapses a post's comment thread. The first
// expansion loads the comments; later toggles and toggles while the load is
// in flight issue no request.
func (s *Store) ToggleComments(ctx context.Context, postID string) error {
	postID = s.Resolve(postID)

	s.mu.Lock()
	if s.expanded[postID] {
		delete(s.expanded, postID)
		s.mu.Unlock()
		s.changed()
		return nil
	}
	s.expanded[postID] = true
	fetch := !s.loaded[postID] && !s.pending[postID] && !ids.IsPlaceholder(postID)
	if fetch {
		s.pending[postID] = true
	}
	s.mu.Unlock()
	s.changed()
	if !fetch {
		return nil
	}

	var list []models.Comment
	err := s.doer.Invoke(ctx, bridge.CmdCommentList, bridge.CommentListArgs{PostID: postID, Limit: s.commentLimit}, &list)

	s.mu.Lock()
	// The post may have been confirmed or removed while loading.
	key := s.Resolve(postID)
	delete(s.pending, key)
	if err != nil {
		s.commentErr = apperrors.Normalize(err)
	} else {
		s.comments[key] = mergeComments(list, s.comments[key])
		s.loaded[key] = true
		s.commentErr = nil
	}
	s.mu.Unlock()
	s.changed()
	return err
}

// mergeComments keeps comments added locally while the list was loading.
func mergeComments(loaded, local []models.Comment) []models.Comment {
	seen := make(map[string]bool, len(loaded))
	for _, c := range loaded {
		seen[c.ID] = true
	}
	out := append([]models.Comment(nil), loaded...)
	for _, c := range local {
		if !seen[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// AddComment appends a comment at once and bumps the post's count. A
// rejected comment is withdrawn.
func (s *Store) AddComment(ctx context.Context, postID, content string) (models.Comment, error) {
	postID = s.Resolve(postID)
	if ids.IsPlaceholder(postID) {
		return models.Comment{}, apperrors.New(apperrors.KindValidation, "post has not been created yet")
	}

	now := s.now()
	placeholder := models.Comment{
		ID:        ids.NewPlaceholder(now),
		PostID:    postID,
		Content:   content,
		CreatedAt: now.UnixMilli(),
	}
	s.mu.Lock()
	s.comments[postID] = append(append([]models.Comment(nil), s.comments[postID]...), placeholder)
	s.counts[postID]++
	s.mu.Unlock()
	s.changed()

	var confirmed models.Comment
	err := s.doer.Invoke(ctx, bridge.CmdCommentAdd, bridge.CommentAddArgs{PostID: postID, Content: content}, &confirmed)

	s.mu.Lock()
	list, _ := removeComment(s.comments[postID], placeholder.ID)
	if err != nil {
		s.comments[postID] = list
		s.decrementLocked(postID)
		s.commentErr = apperrors.Normalize(err)
		s.mu.Unlock()
		s.changed()
		return placeholder, err
	}
	if confirmed.ID == "" {
		confirmed.ID = placeholder.ID
	}
	if confirmed.PostID == "" {
		confirmed.PostID = postID
	}
	if confirmed.Content == "" {
		confirmed.Content = content
	}
	if confirmed.CreatedAt == 0 {
		confirmed.CreatedAt = placeholder.CreatedAt
	}
	s.comments[postID] = append(list, confirmed)
	s.commentErr = nil
	s.mu.Unlock()
	s.changed()
	return confirmed, nil
}

// DeleteComment removes a comment at once and lowers the post's count,
// never below zero, even when the comment was not loaded. A failed delete
// is not rolled back.
func (s *Store) DeleteComment(ctx context.Context, postID, commentID string) error {
	postID = s.Resolve(postID)

	s.mu.Lock()
	list, _ := removeComment(s.comments[postID], commentID)
	if len(list) == 0 {
		delete(s.comments, postID)
	} else {
		s.comments[postID] = list
	}
	s.decrementLocked(postID)
	s.mu.Unlock()
	s.changed()

	if ids.IsPlaceholder(commentID) {
		return nil
	}
	if err := s.doer.Invoke(ctx, bridge.CmdCommentDelete, bridge.CommentRefArgs{ID: commentID, PostID: postID}, nil); err != nil {
		s.mu.Lock()
		s.commentErr = apperrors.Normalize(err)
		s.mu.Unlock()
		s.changed()
		return err
	}
	return nil
}

func (s *Store) decrementLocked(postID string) {
	if s.counts[postID] > 0 {
		s.counts[postID]--
	}
}

func removeComment(list []models.Comment, id string) ([]models.Comment, bool) {
	for i, c := range list {
		if c.ID == id {
			out := make([]models.Comment, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
	}
	return list, false
}

// =====================================================
// Index maintenance
// =====================================================

// rekey moves every per-post index from a placeholder to its confirmed id.
func (s *Store) rekey(placeholderID, id string) {
	s.mu.Lock()
	if n, ok := s.counts[placeholderID]; ok {
		s.counts[id] += n
		delete(s.counts, placeholderID)
	}
	if list, ok := s.comments[placeholderID]; ok {
		s.comments[id] = list
		delete(s.comments, placeholderID)
	}
	for _, set := range []map[string]bool{s.loaded, s.expanded, s.pending} {
		if set[placeholderID] {
			set[id] = true
			delete(set, placeholderID)
		}
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.counts, id)
	delete(s.comments, id)
	delete(s.loaded, id)
	delete(s.expanded, id)
	s.mu.Unlock()
}
