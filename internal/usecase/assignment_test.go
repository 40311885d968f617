package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

func newTestPolicy(s *memStore) *assignmentPolicy {
	p := NewAssignmentPolicy(testConfig(), fakeConvRepo{s}, fakeOperatorRepo{s}, fakeActivityRepo{s}, fakeScoreRepo{s})
	return p.(*assignmentPolicy)
}

func TestAssignExistingConversation(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	s.addOperator("op-offline", "chat:*")
	s.addOperator("op-online", "chat:*")
	s.addConversation(7, "viber_111", "op-offline", time.Now())

	p := newTestPolicy(s)
	user := &models.ExternalUser{ID: "viber_111"}

	for _, available := range [][]string{nil, {"op-online"}} {
		conv, outcome, err := p.Assign(ctx, user, available)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeExisting, outcome)
		assert.EqualValues(t, 7, conv.ID)
		assert.Equal(t, "op-offline", conv.OperatorID)
	}
}

func TestAssignNoPersonnel(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	s.addOperator("op-readonly", "reports:read")
	p := newTestPolicy(s)
	user := &models.ExternalUser{ID: "viber_111"}

	_, _, err := p.Assign(ctx, user, nil)
	assert.ErrorIs(t, err, models.ErrNoPersonnelAvailable)

	_, _, err = p.Assign(ctx, user, []string{"op-readonly", "op-unknown"})
	assert.ErrorIs(t, err, models.ErrNoPersonnelAvailable)
	assert.Empty(t, s.openChats())
}

func TestAssignLeastBusy(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := newMemStore()
	s.addOperator("op-a", "chat:*")
	s.addOperator("op-b", "*")
	s.addOperator("op-c", "chat:*")
	s.addConversation(1, "telegram_1", "op-a", now.Add(-10*time.Minute))
	s.addMessage(1, "hello", true, now.Add(-10*time.Minute))
	s.addConversation(2, "telegram_2", "op-b", now.Add(-2*time.Hour))
	s.operators["op-c"].PerceivedBusyness = 0.5

	p := newTestPolicy(s)
	p.now = func() time.Time { return now }

	conv, outcome, err := p.Assign(ctx, &models.ExternalUser{ID: "viber_9"}, []string{"op-a", "op-b", "op-c"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAssigned, outcome)
	// op-b's only conversation is outside the window
	assert.Equal(t, "op-b", conv.OperatorID)

	require.Len(t, s.scores, 3)
	assert.Equal(t, "op-b", s.scores[0].OperatorID)
	assert.Equal(t, now.Add(-time.Hour), s.scores[0].WindowStart)
}

func TestAssignIsDeterministic(t *testing.T) {
	ctx := context.Background()
	for range 5 {
		s := newMemStore()
		s.addOperator("op-2", "chat:*")
		s.addOperator("op-1", "chat:*")
		p := newTestPolicy(s)

		conv, _, err := p.Assign(ctx, &models.ExternalUser{ID: "viber_1"}, []string{"op-2", "op-1"})
		require.NoError(t, err)
		assert.Equal(t, "op-1", conv.OperatorID)
	}
}

func TestAssignReopensArchived(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-48 * time.Hour)
	s := newMemStore()
	s.addOperator("op-1", "chat:*")
	s.addOperator("op-2", "chat:*")
	s.addConversation(3, "facebook_55", "op-2", base)
	s.addMessage(3, "first", true, base)
	s.addMessage(3, "second", false, base.Add(time.Minute))
	s.addMessage(3, "third", true, base.Add(2*time.Minute))
	_, err := fakeConvRepo{s}.Archive(ctx, 3)
	require.NoError(t, err)

	p := newTestPolicy(s)
	conv, outcome, err := p.Assign(ctx, &models.ExternalUser{ID: "facebook_55"}, []string{"op-1", "op-2"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeReopened, outcome)
	assert.Equal(t, "op-2", conv.OperatorID)
	assert.NotEqual(t, int64(3), conv.ID)

	msgs := s.chatMessages(conv.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	assert.Equal(t, []bool{true, false, true}, []bool{msgs[0].IsFromUser, msgs[1].IsFromUser, msgs[2].IsFromUser})
	assert.True(t, msgs[0].CreatedAt.Equal(base))
	assert.Empty(t, s.archivedMessages)
	assert.Empty(t, s.archivedChats)
}

func TestAssignArchivedOperatorNotAvailable(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	s.addOperator("op-1", "chat:*")
	s.addOperator("op-2", "chat:*")
	s.addConversation(3, "facebook_55", "op-2", time.Now())
	_, err := fakeConvRepo{s}.Archive(ctx, 3)
	require.NoError(t, err)

	p := newTestPolicy(s)
	conv, outcome, err := p.Assign(ctx, &models.ExternalUser{ID: "facebook_55"}, []string{"op-1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAssigned, outcome)
	assert.Equal(t, "op-1", conv.OperatorID)
	assert.Len(t, s.archivedChats, 1)
}

func TestAssignConflictReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	s.addOperator("op-1", "chat:*")
	s.createHook = func(userID string) error {
		s.createHook = nil
		s.addConversation(40, userID, "op-other", time.Now())
		return nil
	}

	p := newTestPolicy(s)
	conv, outcome, err := p.Assign(ctx, &models.ExternalUser{ID: "viber_111"}, []string{"op-1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExisting, outcome)
	assert.EqualValues(t, 40, conv.ID)
	assert.Len(t, s.openChats(), 1)
}
