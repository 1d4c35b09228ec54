package cache

import "github.com/ninthbyte/threadwatch/internal/database/types"

// Field names a matchable field of a guild record. The set is closed so the
// matcher stays independent of the storage representation.
type Field string

const (
	FieldGuildID       Field = "guild_id"
	FieldFollowedUsers Field = "followed_users"
)

// Predicate is a small closed query over guild records, evaluated in memory
// against cached entries. All clauses must hold for a record to match.
type Predicate struct {
	// Equals requires each listed field to equal the given value.
	Equals map[Field]string `json:"equals,omitempty"`
	// Exists requires each listed field to be set (non-zero, non-empty).
	Exists []Field `json:"exists,omitempty"`
	// NotSet requires each listed field to be unset.
	NotSet []Field `json:"notSet,omitempty"`
	// Any requires at least one sub-predicate to fully match.
	Any []Predicate `json:"any,omitempty"`
}

// Match reports whether the guild record satisfies the predicate. A nil
// predicate matches everything.
func (p *Predicate) Match(g *types.Guild) bool {
	if p == nil || g == nil {
		return p == nil && g != nil
	}

	for field, want := range p.Equals {
		if fieldValue(g, field) != want {
			return false
		}
	}

	for _, field := range p.Exists {
		if !fieldSet(g, field) {
			return false
		}
	}

	for _, field := range p.NotSet {
		if fieldSet(g, field) {
			return false
		}
	}

	if len(p.Any) > 0 {
		matched := false

		for i := range p.Any {
			if p.Any[i].Match(g) {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	return true
}

// fieldValue returns the comparable string form of a scalar field. List
// fields have no scalar form and never compare equal.
func fieldValue(g *types.Guild, f Field) string {
	if f == FieldGuildID {
		return g.GuildID
	}

	return "\x00"
}

// fieldSet reports field truthiness: non-empty string or non-empty list.
func fieldSet(g *types.Guild, f Field) bool {
	switch f {
	case FieldGuildID:
		return g.GuildID != ""
	case FieldFollowedUsers:
		return len(g.FollowedUsers) > 0
	default:
		return false
	}
}

// HasFollows matches guilds whose follow list is set and non-empty. This is
// the watcher's seed query.
func HasFollows() *Predicate {
	return &Predicate{Exists: []Field{FieldFollowedUsers}}
}
