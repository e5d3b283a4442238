package bridge

import (
	"github.com/kimhsiao/peerwall/core/internal/models"
)

// =====================================================
// Command names
// =====================================================

const (
	CmdConversationList = "conversation.list"
	CmdConversationGet  = "conversation.get"

	CmdMessageList     = "message.list"
	CmdMessageSend     = "message.send"
	CmdMessageEdit     = "message.edit"
	CmdMessageMarkRead = "message.mark_read"
	CmdMessageClear    = "message.clear"
	CmdMessageDelete   = "message.delete"

	CmdPostList        = "post.list"
	CmdPostCreate      = "post.create"
	CmdPostUpdate      = "post.update"
	CmdPostDelete      = "post.delete"
	CmdPostAttachMedia = "post.attach_media"
	CmdPostListMedia   = "post.list_media"
	CmdPostPublish     = "post.publish"

	CmdCommentList       = "comment.list"
	CmdCommentAdd        = "comment.add"
	CmdCommentDelete     = "comment.delete"
	CmdCommentCountBatch = "comment.count_batch"

	CmdMediaResolveHash = "media.resolve_hash"
	CmdMediaStore       = "media.store"

	CmdNetworkStart = "network.start"
	CmdNetworkStop  = "network.stop"
	CmdNetworkPeers = "network.peers"
	CmdNetworkStats = "network.stats"
)

// =====================================================
// Event types
// =====================================================

const (
	EventMessageIncoming  = "message.incoming"
	EventMessageStatus    = "message.status"
	EventPostIncoming     = "post.incoming"
	EventBoardPost        = "board.post"
	EventRelayStatus      = "relay.status"
	EventPeerConnected    = "peer.connected"
	EventPeerDisconnected = "peer.disconnected"
)

// =====================================================
// Argument and result shapes
// =====================================================

// Post scopes accepted by post.list and post.create.
const (
	ScopeFeed = "feed"
	ScopeWall = "wall"
)

// PageArgs requests one page older than Before (exclusive). Before is zero
// for the first page.
type PageArgs struct {
	Limit  int   `json:"limit"`
	Before int64 `json:"before,omitempty"`
}

// PeerArgs addresses one conversation.
type PeerArgs struct {
	Peer string `json:"peer"`
}

// MessageListArgs pages through one conversation.
type MessageListArgs struct {
	Peer string `json:"peer"`
	PageArgs
}

// MessageSendArgs sends a direct message.
type MessageSendArgs struct {
	Peer    string            `json:"peer"`
	Content string            `json:"content"`
	Media   []models.MediaRef `json:"media,omitempty"`
}

// MessageSendResult carries the backend-confirmed fields of a sent message.
type MessageSendResult struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// MessageEditArgs replaces a message's text.
type MessageEditArgs struct {
	ID      string `json:"id"`
	Peer    string `json:"peer"`
	Content string `json:"content"`
}

// MessageEditResult carries the confirmed edit time.
type MessageEditResult struct {
	EditedAt int64 `json:"edited_at"`
}

// MessageRefArgs addresses one message.
type MessageRefArgs struct {
	ID   string `json:"id"`
	Peer string `json:"peer"`
}

// PostListArgs pages through feed or wall posts.
type PostListArgs struct {
	Scope string `json:"scope"`
	Board string `json:"board,omitempty"`
	PageArgs
}

// PostCreateArgs creates a text post. Media is attached afterwards.
type PostCreateArgs struct {
	Scope   string `json:"scope"`
	Board   string `json:"board,omitempty"`
	Content string `json:"content"`
}

// PostCreateResult carries the backend-confirmed fields of a new post.
type PostCreateResult struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// PostUpdateArgs replaces a post's text.
type PostUpdateArgs struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// PostUpdateResult carries the confirmed update time.
type PostUpdateResult struct {
	UpdatedAt int64 `json:"updated_at"`
}

// PostRefArgs addresses one post.
type PostRefArgs struct {
	PostID string `json:"post_id"`
}

// AttachMediaArgs records a stored media token against a post.
type AttachMediaArgs struct {
	PostID string `json:"post_id"`
	Hash   string `json:"hash"`
	Mime   string `json:"mime,omitempty"`
}

// CommentListArgs loads the comments of one post.
type CommentListArgs struct {
	PostID string `json:"post_id"`
	Limit  int    `json:"limit"`
}

// CommentAddArgs adds a comment.
type CommentAddArgs struct {
	PostID  string `json:"post_id"`
	Content string `json:"content"`
}

// CommentRefArgs addresses one comment.
type CommentRefArgs struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// CommentCountArgs asks for counts of many posts in one call.
type CommentCountArgs struct {
	PostIDs []string `json:"post_ids"`
}

// ResolveHashArgs asks for a locally servable locator of a token.
type ResolveHashArgs struct {
	Hash string `json:"hash"`
}

// ResolveHashResult is the locator for a token.
type ResolveHashResult struct {
	Locator string `json:"locator"`
}

// StoreMediaArgs submits media bytes to backend storage.
type StoreMediaArgs struct {
	Data []byte `json:"data"`
	Mime string `json:"mime,omitempty"`
}

// StoreMediaResult carries the content-address token of stored bytes.
type StoreMediaResult struct {
	Hash string `json:"hash"`
}

// NetworkStats is the backend's view of the peer network.
type NetworkStats struct {
	Running        bool   `json:"running"`
	ConnectedPeers int    `json:"connected_peers"`
	RelayStatus    string `json:"relay_status,omitempty"`
	NATType        string `json:"nat_type,omitempty"`
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
}

// RelayStatusEvent is the payload of relay.status.
type RelayStatusEvent struct {
	Status  string `json:"status"`
	NATType string `json:"nat_type,omitempty"`
	Relay   string `json:"relay,omitempty"`
}

// PeerEvent is the payload of peer.connected and peer.disconnected.
type PeerEvent struct {
	Peer string `json:"peer"`
	Name string `json:"name,omitempty"`
}
