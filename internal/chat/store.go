// Package chat holds conversations and their message threads.
package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
	"github.com/kimhsiao/peerwall/core/internal/ids"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/models"
	"github.com/kimhsiao/peerwall/core/internal/timeline"
)

// ArchiveKey is where the archived conversation ids are persisted.
const ArchiveKey = "peerwall:archived-conversations"

// Archive persists the archived conversation ids.
type Archive interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	PutJSON(ctx context.Context, key string, v any) error
}

// Store owns the conversation list and one message timeline per peer.
type Store struct {
	doer     invoke.Doer
	archive  Archive
	pageSize int
	log      *logging.Logger
	now      func() time.Time

	mu            sync.Mutex
	conversations map[string]models.Conversation
	archived      map[string]bool
	loading       bool
	err           *apperrors.AppError
	threads       map[string]*timeline.Timeline[models.Message]
	listeners     []func()
}

// New creates a Store. archive may be nil, in which case archival lasts
// only for the process.
func New(doer invoke.Doer, archive Archive, pageSize int) *Store {
	return &Store{
		doer:          doer,
		archive:       archive,
		pageSize:      pageSize,
		log:           logging.Component("chat"),
		now:           time.Now,
		conversations: make(map[string]models.Conversation),
		archived:      make(map[string]bool),
		threads:       make(map[string]*timeline.Timeline[models.Message]),
	}
}

// OnChange registers fn to run after any conversation or thread change.
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

// =====================================================
// Conversations
// =====================================================

// LoadArchive reads the persisted archived ids.
func (s *Store) LoadArchive(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	var peers []string
	if _, err := s.archive.GetJSON(ctx, ArchiveKey, &peers); err != nil {
		return err
	}

	s.mu.Lock()
	s.archived = make(map[string]bool, len(peers))
	for _, p := range peers {
		s.archived[p] = true
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

// LoadConversations replaces the conversation list. On failure the
// previous list stays and the error is recorded.
func (s *Store) LoadConversations(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()
	s.changed()

	var list []models.Conversation
	err := s.doer.Invoke(ctx, bridge.CmdConversationList, nil, &list)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.err = apperrors.Normalize(err)
		s.mu.Unlock()
		s.changed()
		return err
	}
	s.err = nil
	s.conversations = make(map[string]models.Conversation, len(list))
	for _, c := range list {
		s.conversations[c.Peer] = c
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

// RefreshConversation asks the backend for one conversation's current
// summary, which carries the authoritative unread count.
func (s *Store) RefreshConversation(ctx context.Context, peer string) error {
	var c models.Conversation
	if err := s.doer.Invoke(ctx, bridge.CmdConversationGet, bridge.PeerArgs{Peer: peer}, &c, invoke.Notify(false)); err != nil {
		return err
	}
	if c.Peer == "" {
		c.Peer = peer
	}

	s.mu.Lock()
	s.conversations[peer] = c
	s.mu.Unlock()
	s.changed()
	return nil
}

// Conversations returns the conversations, most recent first. Archived
// ones are included only when includeArchived is set.
func (s *Store) Conversations(includeArchived bool) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Conversation, 0, len(s.conversations))
	for peer, c := range s.conversations {
		c.Archived = s.archived[peer]
		if c.Archived && !includeArchived {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].Peer < out[j].Peer
	})
	return out
}

// Conversation returns one conversation summary.
func (s *Store) Conversation(peer string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[peer]
	c.Archived = s.archived[peer]
	return c, ok
}

// ConversationsLoading reports whether the list is loading and the last
// load error.
func (s *Store) ConversationsLoading() (bool, *apperrors.AppError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading, s.err
}

// DisplayName returns the name to show for peer.
func (s *Store) DisplayName(peer string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[peer]; ok {
		return c.Name()
	}
	return peer
}

// Archive hides a conversation from the default list. The flag never
// reaches the backend.
func (s *Store) Archive(ctx context.Context, peer string) error {
	return s.setArchived(ctx, peer, true)
}

// Unarchive restores a conversation to the default list.
func (s *Store) Unarchive(ctx context.Context, peer string) error {
	return s.setArchived(ctx, peer, false)
}

func (s *Store) setArchived(ctx context.Context, peer string, archived bool) error {
	s.mu.Lock()
	was := s.archived[peer]
	if archived {
		s.archived[peer] = true
	} else {
		delete(s.archived, peer)
	}
	peers := make([]string, 0, len(s.archived))
	for p := range s.archived {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	sort.Strings(peers)

	if s.archive != nil {
		if err := s.archive.PutJSON(ctx, ArchiveKey, peers); err != nil {
			s.mu.Lock()
			if was {
				s.archived[peer] = true
			} else {
				delete(s.archived, peer)
			}
			s.mu.Unlock()
			s.log.Error("failed to persist archive", err, logging.Fields{"peer": peer})
			return err
		}
	}
	s.changed()
	return nil
}

// =====================================================
// Messages
// =====================================================

// Thread returns the message timeline for peer, creating it on first use.
func (s *Store) Thread(peer string) *timeline.Timeline[models.Message] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadLocked(peer)
}

func (s *Store) threadLocked(peer string) *timeline.Timeline[models.Message] {
	if t, ok := s.threads[peer]; ok {
		return t
	}
	t := timeline.New(func(ctx context.Context, before int64, limit int) ([]models.Message, error) {
		var page []models.Message
		err := s.doer.Invoke(ctx, bridge.CmdMessageList, bridge.MessageListArgs{
			Peer:     peer,
			PageArgs: bridge.PageArgs{Limit: limit, Before: before},
		}, &page)
		for i := range page {
			if page[i].Peer == "" {
				page[i].Peer = peer
			}
		}
		return page, err
	})
	t.OnChange(s.changed)
	s.threads[peer] = t
	return t
}

func (s *Store) loadedThread(peer string) (*timeline.Timeline[models.Message], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[peer]
	return t, ok
}

// Messages returns the state of peer's thread.
func (s *Store) Messages(peer string) timeline.State[models.Message] {
	return s.Thread(peer).State()
}

// LoadMessages loads the newest page of peer's thread.
func (s *Store) LoadMessages(ctx context.Context, peer string) error {
	return s.Thread(peer).Load(ctx, s.pageSize)
}

// LoadMoreMessages loads the next older page of peer's thread.
func (s *Store) LoadMoreMessages(ctx context.Context, peer string) error {
	return s.Thread(peer).LoadMore(ctx, s.pageSize)
}

// Send shows the message at the top of the thread at once, then sends it.
// On success the placeholder takes the backend id and timestamp in place;
// on failure it stays visible marked failed.
func (s *Store) Send(ctx context.Context, peer, content string, media []models.MediaRef) (models.Message, error) {
	now := s.now()
	placeholder := ids.NewPlaceholder(now)
	msg := models.Message{
		Entry: models.Entry{
			ID:            placeholder,
			PlaceholderID: placeholder,
			Content:       content,
			CreatedAt:     now.UnixMilli(),
			Status:        models.StatusPending,
			Media:         append([]models.MediaRef(nil), media...),
		},
		Peer:     peer,
		Outgoing: true,
	}

	thread := s.Thread(peer)
	thread.Prepend(msg)
	s.touchConversation(peer, content, msg.CreatedAt, true)

	var res bridge.MessageSendResult
	err := s.doer.Invoke(ctx, bridge.CmdMessageSend, bridge.MessageSendArgs{
		Peer:    peer,
		Content: content,
		Media:   msg.Media,
	}, &res)
	if err != nil {
		failed, _ := thread.Patch(placeholder, func(m models.Message) models.Message {
			m.Status = models.StatusFailed
			return m
		})
		failed.Status = models.StatusFailed
		thread.SetError(err)
		return failed, err
	}

	confirmed, _ := thread.Confirm(placeholder, func(m models.Message) models.Message {
		if res.ID != "" {
			m.ID = res.ID
		}
		if res.Timestamp > 0 {
			m.CreatedAt = res.Timestamp
		}
		m.Status = models.StatusSent
		return m
	})
	if res.Timestamp > 0 {
		s.touchConversation(peer, content, res.Timestamp, false)
	}
	return confirmed, nil
}

// Edit replaces a sent message's text at once and confirms it. A rejected
// edit restores the previous text.
func (s *Store) Edit(ctx context.Context, peer, id, content string) error {
	thread := s.Thread(peer)
	id = thread.Resolve(id)
	if ids.IsPlaceholder(id) {
		return apperrors.New(apperrors.KindValidation, "message has not been sent yet")
	}

	prev, ok := thread.Patch(id, func(m models.Message) models.Message {
		m.Content = content
		m.EditedAt = s.now().UnixMilli()
		return m
	})
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "message not loaded")
	}

	var res bridge.MessageEditResult
	if err := s.doer.Invoke(ctx, bridge.CmdMessageEdit, bridge.MessageEditArgs{
		ID:      id,
		Peer:    peer,
		Content: content,
	}, &res); err != nil {
		thread.Replace(id, prev)
		thread.SetError(err)
		return err
	}

	if res.EditedAt > 0 {
		thread.Patch(id, func(m models.Message) models.Message {
			m.EditedAt = res.EditedAt
			return m
		})
	}
	return nil
}

// MarkRead marks peer's conversation read, then asks the backend for the
// resulting unread count.
func (s *Store) MarkRead(ctx context.Context, peer string) error {
	if err := s.doer.Invoke(ctx, bridge.CmdMessageMarkRead, bridge.PeerArgs{Peer: peer}, nil); err != nil {
		return err
	}
	return s.RefreshConversation(ctx, peer)
}

// Clear deletes every message with peer once the backend confirms.
func (s *Store) Clear(ctx context.Context, peer string) error {
	if err := s.doer.Invoke(ctx, bridge.CmdMessageClear, bridge.PeerArgs{Peer: peer}, nil); err != nil {
		s.Thread(peer).SetError(err)
		return err
	}
	s.Thread(peer).Reset()

	s.mu.Lock()
	if c, ok := s.conversations[peer]; ok {
		c.LastMessage = ""
		c.LastMessageAt = 0
		c.Unread = 0
		s.conversations[peer] = c
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

// Delete removes a message at once. A failed delete is not rolled back.
func (s *Store) Delete(ctx context.Context, peer, id string) error {
	thread := s.Thread(peer)
	removed, ok := thread.Remove(id)
	if ok && ids.IsPlaceholder(removed.ID) {
		return nil
	}
	if ok {
		id = removed.ID
	}

	if err := s.doer.Invoke(ctx, bridge.CmdMessageDelete, bridge.MessageRefArgs{ID: id, Peer: peer}, nil); err != nil {
		thread.SetError(err)
		s.log.Warn("delete not confirmed", logging.Fields{"peer": peer, "id": id, "error": err.Error()})
		return err
	}
	return nil
}

// =====================================================
// Push events
// =====================================================

// ApplyStatus merges a status event into whichever loaded thread holds the
// message. Only the fields present in the update change.
func (s *Store) ApplyStatus(update models.StatusUpdate) bool {
	s.mu.Lock()
	threads := make([]*timeline.Timeline[models.Message], 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	s.mu.Unlock()

	for _, t := range threads {
		n := t.PatchAll(func(m models.Message) (models.Message, bool) {
			if !m.Matches(update.ID) {
				return m, false
			}
			return update.Apply(m), true
		})
		if n > 0 {
			return true
		}
	}
	return false
}

// ApplyIncoming merges a message pushed by the backend. It is placed in
// the peer's thread by creation time if that thread is open, and the
// conversation summary moves to it. The unread count is left to
// RefreshConversation. It reports whether the message was new: only a
// repeat delivery into an open thread is not.
func (s *Store) ApplyIncoming(msg models.Message) bool {
	if t, ok := s.loadedThread(msg.Peer); ok && !t.InsertUnique(msg) {
		return false
	}
	s.touchConversation(msg.Peer, msg.Content, msg.CreatedAt, false)
	return true
}

// touchConversation moves peer's summary to the given message. resetUnread
// is the one local unread change allowed: right after a local send.
func (s *Store) touchConversation(peer, content string, at int64, resetUnread bool) {
	s.mu.Lock()
	c, ok := s.conversations[peer]
	if !ok {
		c = models.Conversation{Peer: peer}
	}
	if at >= c.LastMessageAt {
		c.LastMessage = content
		c.LastMessageAt = at
	}
	if resetUnread {
		c.Unread = 0
	}
	s.conversations[peer] = c
	s.mu.Unlock()
	s.changed()
}
