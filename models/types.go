package models

import "time"

// Identity is the nickname and role a session claims to act as.
// It is self-declared and never verified.
type Identity struct {
	Nickname string  `json:"nickname"`
	Role     RoleTag `json:"role"`
}

// LikerKey returns the composite key this identity writes into a like set.
func (i Identity) LikerKey() LikerKey {
	return CompositeKey(i.Role, i.Nickname)
}

type Post struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"`
	AuthorRole RoleTag   `json:"authorRole"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
	Likes      Likes     `json:"likes"`
	Comments   []Comment `json:"comments"`
}

type Comment struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"`
	AuthorRole RoleTag   `json:"authorRole"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Clone returns a deep copy so callers can never reach into the
// collection owned by the feed store.
func (p Post) Clone() Post {
	out := p
	if p.Likes != nil {
		out.Likes = append(Likes(nil), p.Likes...)
	}
	if p.Comments != nil {
		out.Comments = append([]Comment(nil), p.Comments...)
	}
	return out
}

// CommentIndex returns the position of the comment with the given id, or -1.
func (p Post) CommentIndex(id string) int {
	for i, c := range p.Comments {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// HasParticipant reports whether nickname appears as the author of the post
// or of one of its comments under the given role.
func (p Post) HasParticipant(nickname string, role RoleTag) bool {
	if p.Author == nickname && p.AuthorRole == role {
		return true
	}
	for _, c := range p.Comments {
		if c.Author == nickname && c.AuthorRole == role {
			return true
		}
	}
	return false
}
