package media

import (
	"context"
	"fmt"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/models"
)

// Uploader moves a new post's media into backend storage and records it
// against the post.
type Uploader struct {
	doer    invoke.Doer
	staging *Staging
	log     *logging.Logger
}

// NewUploader creates an Uploader. staging may be nil when no media is
// ever picked locally.
func NewUploader(doer invoke.Doer, staging *Staging) *Uploader {
	return &Uploader{doer: doer, staging: staging, log: logging.Component("media")}
}

// Attach stores every staged handle in refs, then attaches each resulting
// token (and every non-staged ref as-is) to postID, in order. It returns
// refs with handles rewritten to tokens. On failure it returns the refs
// handled so far, including a token that was stored but not attached, so
// that no stored media is lost. A handle is released once its bytes are
// stored and its attach has been tried.
func (u *Uploader) Attach(ctx context.Context, postID string, refs []models.MediaRef) ([]models.MediaRef, error) {
	out := make([]models.MediaRef, 0, len(refs))
	for _, ref := range refs {
		hash, mime := string(ref), ""

		if IsHandle(ref) {
			if u.staging == nil {
				return out, fmt.Errorf("no staging area for %s", ref)
			}
			data, detected, err := u.staging.Read(ref)
			if err != nil {
				return out, err
			}
			mime = detected

			var stored bridge.StoreMediaResult
			if err := u.doer.Invoke(ctx, bridge.CmdMediaStore,
				bridge.StoreMediaArgs{Data: data, Mime: mime}, &stored); err != nil {
				return out, err
			}
			hash = stored.Hash
		}

		err := u.doer.Invoke(ctx, bridge.CmdPostAttachMedia,
			bridge.AttachMediaArgs{PostID: postID, Hash: hash, Mime: mime}, nil)
		if IsHandle(ref) {
			out = append(out, models.MediaRef(hash))
			u.release(ref)
		} else if err == nil {
			out = append(out, ref)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (u *Uploader) release(handle models.MediaRef) {
	if err := u.staging.Release(handle); err != nil {
		u.log.Warn("failed to release staged media", logging.Fields{"handle": string(handle), "error": err.Error()})
	}
}

// List returns the media recorded against postID.
func (u *Uploader) List(ctx context.Context, postID string) ([]models.MediaRef, error) {
	var refs []models.MediaRef
	if err := u.doer.Invoke(ctx, bridge.CmdPostListMedia, bridge.PostRefArgs{PostID: postID}, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}
