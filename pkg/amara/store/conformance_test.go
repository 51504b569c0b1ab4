package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runConformance exercises a Store implementation. Each backend test
// provides a fresh, empty store.
func runConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("message count equals messages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.MessageCount(ctx, "u1")
		require.ErrorIs(t, err, ErrNotFound)

		for i := 1; i <= 9; i++ {
			n, err := s.IncrementMessageCount(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, int64(i), n)
		}
		n, err := s.IncrementMessageCount(ctx, "u2")
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		count, err := s.MessageCount(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, int64(9), count)
	})

	t.Run("recent turns oldest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 4; i++ {
			require.NoError(t, s.AppendTurns(ctx,
				Turn{UserID: "u1", Role: RoleUser, Content: fmt.Sprintf("q%d", i)},
				Turn{UserID: "u1", Role: RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			))
		}
		require.NoError(t, s.AppendTurns(ctx, Turn{UserID: "u2", Role: RoleUser, Content: "other"}))

		turns, err := s.RecentTurns(ctx, "u1", 5, false)
		require.NoError(t, err)
		require.Len(t, turns, 5)

		var got []string
		for _, tr := range turns {
			got = append(got, tr.Content)
		}
		require.Equal(t, []string{"a1", "q2", "a2", "q3", "a3"}, got)
		require.Equal(t, RoleAssistant, turns[0].Role)
		require.Equal(t, RoleUser, turns[1].Role)
	})

	t.Run("skip fallback turns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendTurns(ctx,
			Turn{UserID: "u1", Role: RoleUser, Content: "hi"},
			Turn{UserID: "u1", Role: RoleAssistant, Content: "hello"},
		))
		require.NoError(t, s.AppendTurns(ctx,
			Turn{UserID: "u1", Role: RoleUser, Content: "still there?", Fallback: true},
			Turn{UserID: "u1", Role: RoleAssistant, Content: "Sorry, something went wrong.", Fallback: true},
		))

		all, err := s.RecentTurns(ctx, "u1", 5, false)
		require.NoError(t, err)
		require.Len(t, all, 4)
		require.True(t, all[3].Fallback)

		clean, err := s.RecentTurns(ctx, "u1", 5, true)
		require.NoError(t, err)
		require.Len(t, clean, 2)
		require.Equal(t, "hello", clean[1].Content)
	})

	t.Run("interaction window and prune", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		require.NoError(t, s.RecordInteraction(ctx, "old", now.Add(-48*time.Hour)))
		require.NoError(t, s.RecordInteraction(ctx, "u1", now.Add(-2*time.Hour)))
		require.NoError(t, s.RecordInteraction(ctx, "u1", now.Add(-1*time.Hour)))
		require.NoError(t, s.RecordInteraction(ctx, "u2", now))

		cutoff := now.Add(-24 * time.Hour)
		active, err := s.ActiveUsers(ctx, cutoff)
		require.NoError(t, err)
		require.Equal(t, 2, active)

		pruned, err := s.PruneInteractions(ctx, cutoff)
		require.NoError(t, err)
		require.Equal(t, int64(1), pruned)

		active, err = s.ActiveUsers(ctx, cutoff)
		require.NoError(t, err)
		require.Equal(t, 2, active)

		users, err := s.KnownUsers(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"u1", "u2"}, users)
	})

	t.Run("media catalog", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Now().Add(-time.Hour).Truncate(time.Second)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.AddMediaItem(ctx, MediaItem{
				SourceID: "src",
				Ref:      fmt.Sprintf("photo-%d", i),
				MimeType: "image/jpeg",
				PostedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		// Duplicate refs are ignored.
		require.NoError(t, s.AddMediaItem(ctx, MediaItem{SourceID: "src", Ref: "photo-1", PostedAt: base}))
		require.NoError(t, s.AddMediaItem(ctx, MediaItem{SourceID: "elsewhere", Ref: "x", PostedAt: base}))

		items, err := s.RecentMediaItems(ctx, "src", 2)
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.Equal(t, "photo-2", items[0].Ref)
		require.Equal(t, "photo-1", items[1].Ref)

		items, err = s.RecentMediaItems(ctx, "src", 100)
		require.NoError(t, err)
		require.Len(t, items, 3)
	})
}
