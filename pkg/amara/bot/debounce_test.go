package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryAppendArmsOnce(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.True(t, r.Append("u1", "a"))
	require.False(t, r.Append("u1", "b"))
	require.True(t, r.Append("u2", "c"), "sessions are independent")

	pending, scheduled := r.Snapshot("u1")
	require.Equal(t, []string{"a", "b"}, pending)
	require.True(t, scheduled)
	require.Equal(t, 2, r.Len())
}

func TestRegistryRelease(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Append("u1", "a")
	require.Equal(t, []string{"a"}, r.Drain("u1"))
	require.False(t, r.Release("u1"))

	_, scheduled := r.Snapshot("u1")
	require.False(t, scheduled)

	r.Append("u1", "b")
	r.Drain("u1")
	r.Append("u1", "c")
	require.True(t, r.Release("u1"), "messages buffered during a flush need another")
	_, scheduled = r.Snapshot("u1")
	require.True(t, scheduled)
}

func TestRegistryClearKeepsFlag(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Append("u1", "a")
	r.Clear("u1")

	pending, scheduled := r.Snapshot("u1")
	require.Empty(t, pending)
	require.True(t, scheduled)
}

func TestRegistrySnapshotUnknownUser(t *testing.T) {
	t.Parallel()

	pending, scheduled := NewRegistry().Snapshot("nobody")
	require.Nil(t, pending)
	require.False(t, scheduled)
}

func TestJoinLast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []string
		n    int
		want string
	}{
		{"empty", nil, 5, ""},
		{"single", []string{"a"}, 5, "a"},
		{"exactly n", []string{"a", "b", "c"}, 3, "a\nb\nc"},
		{"more than n", []string{"a", "b", "c", "d", "e", "f", "g"}, 5, "c\nd\ne\nf\ng"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, JoinLast(tt.msgs, tt.n))
		})
	}
}

func TestDebouncerRealTimer(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		blocks []string
	)
	d := NewDebouncer(NewRegistry(), 20*time.Millisecond, 5, nil, func(_ context.Context, _, block string) {
		mu.Lock()
		blocks = append(blocks, block)
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	require.True(t, d.Push(ctx, "u1", "one"))
	require.False(t, d.Push(ctx, "u1", "two"))
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"one\ntwo"}, blocks)
}

func TestDebouncerConcurrentPushes(t *testing.T) {
	t.Parallel()

	timers := &fakeTimers{}
	var calls int
	d := NewDebouncer(NewRegistry(), time.Minute, 5, timers.after, func(context.Context, string, string) {
		calls++
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Push(context.Background(), "u1", "x")
		}()
	}
	wg.Wait()

	require.Equal(t, 1, timers.count())
	timers.fireAll()
	require.Equal(t, 1, calls)
}
