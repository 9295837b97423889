package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corale/relay/internal/domain"
)

func TestHistoryRoundTrip(t *testing.T) {
	e, err := NewEphemeral(time.Minute)
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.History("s1")
	assert.False(t, ok)

	turns := []domain.Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	e.PutHistory("s1", turns)

	got, ok := e.History("s1")
	require.True(t, ok)
	assert.Equal(t, turns, got)

	// Other sessions stay isolated.
	_, ok = e.History("s2")
	assert.False(t, ok)
}

func TestApprovalMirror(t *testing.T) {
	e, err := NewEphemeral(time.Minute)
	require.NoError(t, err)
	defer e.Close()

	ap := &domain.PendingApproval{
		ID:             "ap1",
		ConversationID: "c1",
		Status:         domain.ApprovalStatusPending,
		CreatedAt:      time.Now(),
	}
	e.PutApproval(ap, time.Minute)

	got, ok := e.Approval("ap1")
	require.True(t, ok)
	assert.Equal(t, domain.ApprovalStatusPending, got.Status)

	e.DropApproval("ap1")
	e.cache.Wait()
	_, ok = e.Approval("ap1")
	assert.False(t, ok)
}
