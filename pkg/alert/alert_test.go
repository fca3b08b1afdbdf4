package alert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	name string
	sent []string
	err  error
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(ctx context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func TestBroadcastFanOut(t *testing.T) {
	a := &fakeNotifier{name: "a"}
	b := &fakeNotifier{name: "b"}
	m := NewManager([]Notifier{a, b})

	require.True(t, m.HasNotifiers())
	require.NoError(t, m.Broadcast(context.Background(), "Stalled items: 3."))

	assert.Equal(t, []string{"Stalled items: 3."}, a.sent)
	assert.Equal(t, []string{"Stalled items: 3."}, b.sent)
}

func TestBroadcastJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeNotifier{name: "a", err: boom}
	b := &fakeNotifier{name: "b"}
	m := NewManager([]Notifier{a, b})

	err := m.Broadcast(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"hello"}, b.sent, "one failing notifier must not block the rest")
}

func TestBroadcastTruncates(t *testing.T) {
	a := &fakeNotifier{name: "a"}
	m := NewManager([]Notifier{a})

	long := strings.Repeat("x", MaxMessageLen+100)
	require.NoError(t, m.Broadcast(context.Background(), long))
	require.Len(t, a.sent, 1)
	assert.Len(t, []rune(a.sent[0]), MaxMessageLen)
}

func TestHasNotifiersEmpty(t *testing.T) {
	m := NewManager(nil)
	assert.False(t, m.HasNotifiers())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	// Rune-based, never byte-based.
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "", Truncate("", 3))
}
