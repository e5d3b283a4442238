// Package wall holds the user's own posts. New posts are pushed to the
// network after they are stored locally; a failed push is retried from the
// outbox and never undoes the post.
package wall

import (
	"context"
	"sync"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/media"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/outbox"
	"github.com/kimhsiao/peerwall/core/internal/posts"
)

// Store is the wall container.
type Store struct {
	*posts.Store

	doer   invoke.Doer
	outbox outbox.Enqueuer
	log    *logging.Logger

	// publishes tracks background publish calls.
	publishes sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a wall Store. outbox may be nil, in which case failed
// publishes are only logged.
func New(doer invoke.Doer, uploader *media.Uploader, ob outbox.Enqueuer, pageSize int) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		Store:  posts.New(doer, uploader, bridge.ScopeWall, pageSize, posts.Hooks{}),
		doer:   doer,
		outbox: ob,
		log:    logging.Component("wall"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Create stores the post locally, with its media, then pushes it to the
// network in the background.
func (s *Store) Create(ctx context.Context, content string, refs []models.MediaRef) (models.Post, error) {
	post, err := s.Store.Create(ctx, content, refs)
	if err != nil {
		return post, err
	}

	s.publishes.Add(1)
	go func() {
		defer s.publishes.Done()
		s.publish(post.ID)
	}()
	return post, nil
}

func (s *Store) publish(id string) {
	args := bridge.PostRefArgs{PostID: id}
	err := s.doer.Invoke(s.ctx, bridge.CmdPostPublish, args, nil, invoke.Notify(false))
	if err == nil {
		return
	}

	s.log.Warn("post not published", logging.Fields{"post": id, "error": err.Error()})
	if s.outbox == nil || s.ctx.Err() != nil {
		return
	}
	if _, qerr := s.outbox.Enqueue(bridge.CmdPostPublish, args); qerr != nil {
		s.log.Error("failed to queue publish", qerr, logging.Fields{"post": id})
	}
}

// Wait blocks until every background publish has finished.
func (s *Store) Wait() {
	s.publishes.Wait()
}

// Close abandons in-flight publishes and waits for them.
func (s *Store) Close() {
	s.cancel()
	s.publishes.Wait()
}
