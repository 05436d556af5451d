package models

import (
	"encoding/json"
	"strings"
)

// LikerKey identifies who liked a post. Older rows store a bare nickname
// (legacy); current clients store "Role:nickname" (composite). Both forms
// may sit in the same set.
type LikerKey struct {
	Role     RoleTag // empty for legacy keys
	Nickname string
}

func LegacyKey(nickname string) LikerKey {
	return LikerKey{Nickname: nickname}
}

func CompositeKey(role RoleTag, nickname string) LikerKey {
	return LikerKey{Role: role.Normalize(), Nickname: nickname}
}

func (k LikerKey) IsLegacy() bool {
	return k.Role == ""
}

func (k LikerKey) String() string {
	if k.IsLegacy() {
		return k.Nickname
	}
	return string(k.Role) + ":" + k.Nickname
}

// ParseLikerKey reads the stored form. A prefix before the first colon is
// only treated as a role when it names a valid tag; otherwise the whole
// string is a legacy nickname.
func ParseLikerKey(s string) LikerKey {
	if i := strings.IndexByte(s, ':'); i > 0 {
		if r := RoleTag(s[:i]); r.Valid() {
			return LikerKey{Role: r, Nickname: s[i+1:]}
		}
	}
	return LegacyKey(s)
}

// Likes is a like set kept in insertion order. It never holds the same key
// twice.
type Likes []LikerKey

func (l Likes) Contains(k LikerKey) bool {
	for _, x := range l {
		if x == k {
			return true
		}
	}
	return false
}

// With returns a new set with k added. The receiver is not modified.
func (l Likes) With(k LikerKey) Likes {
	out := make(Likes, 0, len(l)+1)
	out = append(out, l...)
	if !l.Contains(k) {
		out = append(out, k)
	}
	return out
}

// Without returns a new set with every listed key removed.
func (l Likes) Without(keys ...LikerKey) Likes {
	out := make(Likes, 0, len(l))
	for _, x := range l {
		drop := false
		for _, k := range keys {
			if x == k {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, x)
		}
	}
	return out
}

// Strings returns the stored forms.
func (l Likes) Strings() []string {
	out := make([]string, len(l))
	for i, k := range l {
		out[i] = k.String()
	}
	return out
}

// ParseLikes decodes stored keys, dropping duplicates.
func ParseLikes(ss []string) Likes {
	out := make(Likes, 0, len(ss))
	for _, s := range ss {
		k := ParseLikerKey(s)
		if !out.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}

func (l Likes) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Strings())
}

func (l *Likes) UnmarshalJSON(b []byte) error {
	var ss []string
	if err := json.Unmarshal(b, &ss); err != nil {
		return err
	}
	*l = ParseLikes(ss)
	return nil
}
