package media

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/bridge/bridgetest"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

var token = models.MediaRef(strings.Repeat("ab", 32))

func newResolver(backend *bridgetest.Backend) (*Resolver, *telemetry.Metrics) {
	m := telemetry.New()
	return NewResolver(backend.Invoker(), nil, m), m
}

func TestIsToken(t *testing.T) {
	assert.True(t, IsToken(token))
	assert.True(t, IsToken(models.MediaRef(strings.ToUpper(string(token)))))
	assert.False(t, IsToken(token[:63]))
	assert.False(t, IsToken(models.MediaRef(strings.Repeat("zz", 32))))
}

func TestResolver_passthrough(t *testing.T) {
	backend := bridgetest.New()
	r, _ := newResolver(backend)

	for _, ref := range []models.MediaRef{
		"blob:" + token,
		"data:image/png;base64,AAAA",
		"https://example.com/a.png",
		"asset://localhost/a.png",
	} {
		assert.Equal(t, string(ref), r.Resolve(context.Background(), ref))
	}
	assert.Empty(t, backend.History())
}

func TestResolver_tokenResolvedOnceAndMemoized(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdMediaResolveHash, bridge.ResolveHashResult{Locator: "asset://media/ab"})
	r, m := newResolver(backend)

	assert.Equal(t, "asset://media/ab", r.Resolve(context.Background(), token))
	assert.Equal(t, 1, backend.Calls(bridge.CmdMediaResolveHash))

	upper := models.MediaRef(strings.ToUpper(string(token)))
	assert.Equal(t, "asset://media/ab", r.Resolve(context.Background(), upper))
	assert.Equal(t, 1, backend.Calls(bridge.CmdMediaResolveHash))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverLookups.WithLabelValues(telemetry.LookupHit)))
}

func TestResolver_failureIsEmptyAndNotCached(t *testing.T) {
	backend := bridgetest.New()
	backend.Fail(bridge.CmdMediaResolveHash, errors.New("content not found"))
	r, _ := newResolver(backend)

	assert.Equal(t, "", r.Resolve(context.Background(), token))
	_, cached := r.Cached(token)
	assert.False(t, cached)

	backend.Reply(bridge.CmdMediaResolveHash, bridge.ResolveHashResult{Locator: "asset://later"})
	assert.Equal(t, "asset://later", r.Resolve(context.Background(), token))
	assert.Equal(t, 2, backend.Calls(bridge.CmdMediaResolveHash))
}

func TestResolver_unknownShape(t *testing.T) {
	backend := bridgetest.New()
	r, _ := newResolver(backend)

	assert.Equal(t, "", r.Resolve(context.Background(), "not-a-token"))
	assert.Empty(t, backend.History())
}

func TestResolver_concurrentSharesOneCall(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdMediaResolveHash, bridge.ResolveHashResult{Locator: "asset://shared"})
	gate := backend.Gate(bridge.CmdMediaResolveHash)
	r, _ := newResolver(backend)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), token)
		}(i)
	}

	<-gate.Entered()
	time.Sleep(20 * time.Millisecond)
	gate.Release()
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, "asset://shared", got)
	}
	assert.Equal(t, 1, backend.Calls(bridge.CmdMediaResolveHash))
}

func TestLazy(t *testing.T) {
	backend := bridgetest.New()
	backend.Handle(bridge.CmdMediaResolveHash, func(args json.RawMessage) (any, error) {
		var a bridge.ResolveHashArgs
		_ = json.Unmarshal(args, &a)
		if a.Hash == string(token) {
			return bridge.ResolveHashResult{Locator: "asset://a"}, nil
		}
		return nil, errors.New("not found")
	})
	r, _ := newResolver(backend)

	missing := models.MediaRef(strings.Repeat("cd", 32))
	ready := make(chan []string, 1)
	l := NewLazy(context.Background(), r, []models.MediaRef{"https://x/y.png", missing, token}, func(locs []string) {
		ready <- locs
	})
	l.Wait()

	assert.Equal(t, []string{"https://x/y.png", "asset://a"}, <-ready)
	assert.Equal(t, []string{"https://x/y.png", "asset://a"}, l.Locators())
}

func TestLazy_closeDiscardsLateResult(t *testing.T) {
	backend := bridgetest.New()
	backend.Reply(bridge.CmdMediaResolveHash, bridge.ResolveHashResult{Locator: "asset://late"})
	gate := backend.Gate(bridge.CmdMediaResolveHash)
	r, _ := newResolver(backend)

	called := false
	l := NewLazy(context.Background(), r, []models.MediaRef{token}, func([]string) { called = true })
	<-gate.Entered()
	l.Close()
	gate.Release()
	l.Wait()

	assert.False(t, called)
	assert.Nil(t, l.Locators())
}

func TestStaging(t *testing.T) {
	s := NewStaging(t.TempDir(), 1024)
	png := []byte("\x89PNG\r\n\x1a\n0000000000000")

	handle, err := s.Stage(png)
	require.NoError(t, err)
	assert.True(t, IsHandle(handle))
	assert.Equal(t, models.MediaRef(HandlePrefix+Hash(png)), handle)

	again, err := s.Stage(png)
	require.NoError(t, err)
	assert.Equal(t, handle, again)

	data, mime, err := s.Read(handle)
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Equal(t, "image/png", mime)

	require.NoError(t, s.Release(handle))
	assert.False(t, s.Exists(handle))
	_, _, err = s.Read(handle)
	assert.Error(t, err)

	_, err = s.Stage(make([]byte, 2048))
	assert.Error(t, err, "over the size limit")

	_, _, err = s.Read("https://example.com/a.png")
	assert.Error(t, err)
}

func TestUploader_Attach(t *testing.T) {
	backend := bridgetest.New()
	backend.Handle(bridge.CmdMediaStore, func(args json.RawMessage) (any, error) {
		var a bridge.StoreMediaArgs
		_ = json.Unmarshal(args, &a)
		return bridge.StoreMediaResult{Hash: Hash(a.Data)}, nil
	})
	backend.Reply(bridge.CmdPostAttachMedia, nil)

	staging := NewStaging(t.TempDir(), 0)
	handle, err := staging.Stage([]byte("picture bytes"))
	require.NoError(t, err)

	u := NewUploader(backend.Invoker(), staging)
	refs, err := u.Attach(context.Background(), "post-1", []models.MediaRef{handle, token})
	require.NoError(t, err)

	assert.Equal(t, []models.MediaRef{models.MediaRef(Hash([]byte("picture bytes"))), token}, refs)
	assert.Equal(t, 1, backend.Calls(bridge.CmdMediaStore))
	assert.Equal(t, 2, backend.Calls(bridge.CmdPostAttachMedia))
	assert.False(t, staging.Exists(handle))

	var first bridge.AttachMediaArgs
	require.NoError(t, backend.Args(bridge.CmdPostAttachMedia, 0, &first))
	assert.Equal(t, "post-1", first.PostID)
	assert.Equal(t, string(refs[0]), first.Hash)
}

func TestUploader_storeFailureStops(t *testing.T) {
	backend := bridgetest.New()
	backend.Fail(bridge.CmdMediaStore, errors.New("DATABASE_ERROR: disk full"))

	staging := NewStaging(t.TempDir(), 0)
	handle, err := staging.Stage([]byte("x"))
	require.NoError(t, err)

	u := NewUploader(backend.Invoker(), staging)
	refs, err := u.Attach(context.Background(), "post-1", []models.MediaRef{handle})
	assert.Error(t, err)
	assert.Empty(t, refs)
	assert.True(t, staging.Exists(handle), "staged bytes kept for a retry")
	assert.Equal(t, 0, backend.Calls(bridge.CmdPostAttachMedia))
}

func TestUploader_attachFailureKeepsStoredToken(t *testing.T) {
	backend := bridgetest.New()
	backend.Handle(bridge.CmdMediaStore, func(args json.RawMessage) (any, error) {
		var a bridge.StoreMediaArgs
		_ = json.Unmarshal(args, &a)
		return bridge.StoreMediaResult{Hash: Hash(a.Data)}, nil
	})
	backend.Fail(bridge.CmdPostAttachMedia, errors.New("NOT_FOUND: post gone"))

	staging := NewStaging(t.TempDir(), 0)
	handle, err := staging.Stage([]byte("y"))
	require.NoError(t, err)

	u := NewUploader(backend.Invoker(), staging)
	refs, err := u.Attach(context.Background(), "post-1", []models.MediaRef{handle, token})
	assert.Error(t, err)
	assert.Equal(t, []models.MediaRef{models.MediaRef(Hash([]byte("y")))}, refs, "the stored token replaces the handle")
	assert.False(t, staging.Exists(handle), "bytes live on the backend under the token")
	assert.Equal(t, 1, backend.Calls(bridge.CmdPostAttachMedia), "later refs are not attempted")
}

func TestResolver_ResolveAll(t *testing.T) {
	backend := bridgetest.New()
	backend.Handle(bridge.CmdMediaResolveHash, func(args json.RawMessage) (any, error) {
		var a bridge.ResolveHashArgs
		_ = json.Unmarshal(args, &a)
		if a.Hash == string(token) {
			return bridge.ResolveHashResult{Locator: "asset://a"}, nil
		}
		return nil, errors.New("not found")
	})
	r, _ := newResolver(backend)
	missing := models.MediaRef(strings.Repeat("cd", 32))

	got := r.ResolveAll(context.Background(), []models.MediaRef{token, "not a ref", missing, "data:image/gif;base64,R0"})
	assert.Equal(t, []string{"asset://a", "data:image/gif;base64,R0"}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, r.ResolveAll(ctx, []models.MediaRef{"https://x/y.png"}), "a cancelled render resolves nothing")
}
