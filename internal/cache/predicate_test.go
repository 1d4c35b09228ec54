package cache_test

import (
	"testing"

	"github.com/ninthbyte/threadwatch/internal/cache"
	"github.com/ninthbyte/threadwatch/internal/database/types"
	"github.com/stretchr/testify/assert"
)

func TestPredicateMatch(t *testing.T) {
	t.Parallel()

	withFollows := &types.Guild{GuildID: "g1", FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice"},
	}}
	empty := &types.Guild{GuildID: "g2"}

	tests := []struct {
		name  string
		pred  *cache.Predicate
		guild *types.Guild
		want  bool
	}{
		{
			name:  "nil predicate matches everything",
			pred:  nil,
			guild: empty,
			want:  true,
		},
		{
			name:  "equals on guild id",
			pred:  &cache.Predicate{Equals: map[cache.Field]string{cache.FieldGuildID: "g1"}},
			guild: withFollows,
			want:  true,
		},
		{
			name:  "equals mismatch",
			pred:  &cache.Predicate{Equals: map[cache.Field]string{cache.FieldGuildID: "other"}},
			guild: withFollows,
			want:  false,
		},
		{
			name:  "equals on list field never matches",
			pred:  &cache.Predicate{Equals: map[cache.Field]string{cache.FieldFollowedUsers: ""}},
			guild: empty,
			want:  false,
		},
		{
			name:  "exists on populated list",
			pred:  &cache.Predicate{Exists: []cache.Field{cache.FieldFollowedUsers}},
			guild: withFollows,
			want:  true,
		},
		{
			name:  "exists on empty list",
			pred:  &cache.Predicate{Exists: []cache.Field{cache.FieldFollowedUsers}},
			guild: empty,
			want:  false,
		},
		{
			name:  "not-set on empty list",
			pred:  &cache.Predicate{NotSet: []cache.Field{cache.FieldFollowedUsers}},
			guild: empty,
			want:  true,
		},
		{
			name:  "not-set on populated list",
			pred:  &cache.Predicate{NotSet: []cache.Field{cache.FieldFollowedUsers}},
			guild: withFollows,
			want:  false,
		},
		{
			name: "any matches when one branch holds",
			pred: &cache.Predicate{Any: []cache.Predicate{
				{Equals: map[cache.Field]string{cache.FieldGuildID: "other"}},
				{Exists: []cache.Field{cache.FieldFollowedUsers}},
			}},
			guild: withFollows,
			want:  true,
		},
		{
			name: "any fails when no branch holds",
			pred: &cache.Predicate{Any: []cache.Predicate{
				{Equals: map[cache.Field]string{cache.FieldGuildID: "other"}},
				{Exists: []cache.Field{cache.FieldFollowedUsers}},
			}},
			guild: empty,
			want:  false,
		},
		{
			name: "clauses combine with and",
			pred: &cache.Predicate{
				Equals: map[cache.Field]string{cache.FieldGuildID: "g1"},
				NotSet: []cache.Field{cache.FieldFollowedUsers},
			},
			guild: withFollows,
			want:  false,
		},
		{
			name:  "has-follows helper",
			pred:  cache.HasFollows(),
			guild: withFollows,
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.pred.Match(tt.guild))
		})
	}
}
