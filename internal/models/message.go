package models

// Message is a direct message exchanged with one peer.
type Message struct {
	Entry
	Peer        string `json:"peer"`
	Outgoing    bool   `json:"outgoing"`
	DeliveredAt int64  `json:"delivered_at,omitempty"`
	ReadAt      int64  `json:"read_at,omitempty"`
	EditedAt    int64  `json:"edited_at,omitempty"`
}

// StatusUpdate is a push-event patch for one message. Nil fields are left
// untouched on the target message.
type StatusUpdate struct {
	ID          string  `json:"id"`
	Peer        string  `json:"peer,omitempty"`
	Status      *Status `json:"status,omitempty"`
	DeliveredAt *int64  `json:"delivered_at,omitempty"`
	ReadAt      *int64  `json:"read_at,omitempty"`
}

// Apply returns m with only the fields present in u replaced.
func (u StatusUpdate) Apply(m Message) Message {
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.DeliveredAt != nil {
		m.DeliveredAt = *u.DeliveredAt
	}
	if u.ReadAt != nil {
		m.ReadAt = *u.ReadAt
	}
	return m
}

// Conversation is the summary row of a direct-message thread.
//
// Archived is client-only state: it is never sent to the backend.
type Conversation struct {
	Peer          string `json:"peer"`
	DisplayName   string `json:"display_name,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
	Unread        int    `json:"unread"`
	Archived      bool   `json:"-"`
}

// Name returns the display name, falling back to the peer id.
func (c Conversation) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Peer
}
