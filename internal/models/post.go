package models

// Post is a feed item or a personal wall post.
type Post struct {
	Entry
	Board      string `json:"board,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	UpdatedAt  int64  `json:"updated_at,omitempty"`
}

// Comment is a reply attached to a post.
type Comment struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Peer is a remote node as reported by the network queries.
type Peer struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Connected bool   `json:"connected"`
	Relayed   bool   `json:"relayed,omitempty"`
}
