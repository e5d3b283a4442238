package wall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/bridge/bridgetest"
	"github.com/kimhsiao/peerwall/core/internal/media"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/outbox"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

func newStore(t *testing.T, backend *bridgetest.Backend, staging *media.Staging) (*Store, *outbox.Queue) {
	t.Helper()
	doer := backend.Invoker()
	q := outbox.NewQueue(10, 3, telemetry.New())
	s := New(doer, media.NewUploader(doer, staging), q, 5)
	t.Cleanup(s.Close)
	return s, q
}

func TestCreate_publishesAfterMedia(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdPostCreate, bridge.PostCreateResult{ID: "w1", CreatedAt: 100})
	backend.Handle(bridge.CmdMediaStore, func(args json.RawMessage) (any, error) {
		var a bridge.StoreMediaArgs
		_ = json.Unmarshal(args, &a)
		return bridge.StoreMediaResult{Hash: media.Hash(a.Data)}, nil
	})
	backend.Reply(bridge.CmdPostAttachMedia, nil)
	backend.Reply(bridge.CmdPostPublish, nil)

	staging := media.NewStaging(t.TempDir(), 0)
	first, err := staging.Stage([]byte("one"))
	require.NoError(t, err)
	second, err := staging.Stage([]byte("two"))
	require.NoError(t, err)

	s, q := newStore(t, backend, staging)
	post, err := s.Create(context.Background(), "my day", []models.MediaRef{first, second})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, models.StatusComplete, post.Status)
	assert.Equal(t, []models.MediaRef{
		models.MediaRef(media.Hash([]byte("one"))),
		models.MediaRef(media.Hash([]byte("two"))),
	}, post.Media)

	var order []string
	for _, c := range backend.History() {
		order = append(order, c.Command)
	}
	assert.Equal(t, []string{
		bridge.CmdPostCreate,
		bridge.CmdMediaStore, bridge.CmdPostAttachMedia,
		bridge.CmdMediaStore, bridge.CmdPostAttachMedia,
		bridge.CmdPostPublish,
	}, order)

	var attached bridge.AttachMediaArgs
	require.NoError(t, backend.Args(bridge.CmdPostAttachMedia, 1, &attached))
	assert.Equal(t, media.Hash([]byte("two")), attached.Hash)
	assert.Equal(t, "w1", attached.PostID)
	assert.Zero(t, q.Len())
}

func TestCreate_publishFailureIsQueuedNotRolledBack(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdPostCreate, bridge.PostCreateResult{ID: "w1", CreatedAt: 100})
	backend.Fail(bridge.CmdPostPublish, errors.New("NETWORK_UNREACHABLE: no relay"))

	s, q := newStore(t, backend, nil)
	post, err := s.Create(context.Background(), "hello", nil)
	require.NoError(t, err)
	s.Wait()

	entries := s.State().Entries
	require.Len(t, entries, 1)
	assert.Equal(t, "w1", entries[0].ID)
	assert.Equal(t, models.StatusComplete, entries[0].Status)
	assert.Nil(t, s.State().Error, "publish failure is not a container error")
	assert.Equal(t, post.ID, entries[0].ID)

	ready := q.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, bridge.CmdPostPublish, ready[0].Command)
	var args bridge.PostRefArgs
	require.NoError(t, json.Unmarshal(ready[0].Args, &args))
	assert.Equal(t, "w1", args.PostID)
}

func TestCreate_mediaFailureMarksFailed(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdPostCreate, bridge.PostCreateResult{ID: "w1", CreatedAt: 100})
	backend.Fail(bridge.CmdMediaStore, errors.New("DATABASE_ERROR: disk full"))

	staging := media.NewStaging(t.TempDir(), 0)
	handle, err := staging.Stage([]byte("one"))
	require.NoError(t, err)

	s, _ := newStore(t, backend, staging)
	post, err := s.Create(context.Background(), "hello", []models.MediaRef{handle})
	require.Error(t, err)
	s.Wait()

	assert.Equal(t, "w1", post.ID)
	assert.Equal(t, models.StatusFailed, post.Status)
	p, ok := s.Find("w1")
	require.True(t, ok)
	assert.Equal(t, []models.MediaRef{handle}, p.Media, "unsent media keeps its handle for a retry")
	assert.Zero(t, backend.Calls(bridge.CmdPostPublish))
}

func TestCreate_attachFailureRecordsStoredToken(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdPostCreate, bridge.PostCreateResult{ID: "w2", CreatedAt: 100})
	backend.Handle(bridge.CmdMediaStore, func(args json.RawMessage) (any, error) {
		var a bridge.StoreMediaArgs
		_ = json.Unmarshal(args, &a)
		return bridge.StoreMediaResult{Hash: media.Hash(a.Data)}, nil
	})
	backend.Fail(bridge.CmdPostAttachMedia, errors.New("permission denied"))

	staging := media.NewStaging(t.TempDir(), 0)
	first, err := staging.Stage([]byte("one"))
	require.NoError(t, err)
	second, err := staging.Stage([]byte("two"))
	require.NoError(t, err)

	s, _ := newStore(t, backend, staging)
	_, err = s.Create(context.Background(), "hello", []models.MediaRef{first, second})
	require.Error(t, err)
	s.Wait()

	p, ok := s.Find("w2")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, p.Status)
	assert.Equal(t, []models.MediaRef{models.MediaRef(media.Hash([]byte("one"))), second}, p.Media,
		"stored media is kept by token and unsent media by handle")
	assert.False(t, staging.Exists(first))
	assert.True(t, staging.Exists(second))
	assert.Zero(t, backend.Calls(bridge.CmdPostPublish))
}

func TestLoadMoreAndUpdate(t *testing.T) {
	backend := bridgetest.New()
	backend.Handle(bridge.CmdPostList, func(args json.RawMessage) (any, error) {
		var a bridge.PostListArgs
		_ = json.Unmarshal(args, &a)
		if a.Scope != bridge.ScopeWall {
			return nil, fmt.Errorf("VALIDATION_FAILURE: wrong scope %q", a.Scope)
		}
		page := []models.Post{}
		for at := int64(7); at >= 1 && len(page) < a.Limit; at-- {
			if a.Before != 0 && at >= a.Before {
				continue
			}
			page = append(page, models.Post{Entry: models.Entry{ID: fmt.Sprintf("w%d", at), Content: "v1", CreatedAt: at}})
		}
		return page, nil
	})
	backend.Reply(bridge.CmdPostUpdate, bridge.PostUpdateResult{UpdatedAt: 900})

	s, _ := newStore(t, backend, nil)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.LoadMore(ctx))
	st := s.State()
	assert.Len(t, st.Entries, 7)
	assert.False(t, st.HasMore)

	require.NoError(t, s.Update(ctx, "w3", "v2"))
	p, _ := s.Find("w3")
	assert.Equal(t, "v2", p.Content)
	assert.Equal(t, int64(900), p.UpdatedAt)

	backend.Fail(bridge.CmdPostUpdate, errors.New("permission denied"))
	require.Error(t, s.Update(ctx, "w3", "v3"))
	p, _ = s.Find("w3")
	assert.Equal(t, "v2", p.Content, "rejected update restores the previous text")
}

func TestDelete(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdPostCreate, bridge.PostCreateResult{ID: "w1", CreatedAt: 100})
	backend.Reply(bridge.CmdPostPublish, nil)
	backend.Reply(bridge.CmdPostDelete, nil)

	s, _ := newStore(t, backend, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, "bye", nil)
	require.NoError(t, err)
	s.Wait()

	require.NoError(t, s.Delete(ctx, "w1"))
	assert.Empty(t, s.State().Entries)

	var args bridge.PostRefArgs
	require.NoError(t, backend.Args(bridge.CmdPostDelete, 0, &args))
	assert.Equal(t, "w1", args.PostID)
}
