package service

import (
	"context"
	"testing"

	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	scope string
	limit int
	turns []model.ConversationTurn
}

func (f *fakeArchive) Create(_ context.Context, turn *model.ConversationTurn) error {
	f.turns = append(f.turns, *turn)
	return nil
}

func (f *fakeArchive) FindByScope(_ context.Context, scopeKey string, limit int) ([]model.ConversationTurn, error) {
	f.scope, f.limit = scopeKey, limit
	return f.turns, nil
}

func TestListTurnsClampsLimit(t *testing.T) {
	archive := &fakeArchive{turns: []model.ConversationTurn{{TurnID: "t-1"}}}
	svc := NewAdminService(archive, NewBehaviorMemoryService(newFakeMemoryRepo(), lexicon.Default()))

	turns, err := svc.ListTurns(context.Background(), " user:1 ", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
	assert.Equal(t, "user:1", archive.scope)
	assert.Equal(t, defaultTurnPageSize, archive.limit)

	_, err = svc.ListTurns(context.Background(), "user:1", 10000)
	require.NoError(t, err)
	assert.Equal(t, maxTurnPageSize, archive.limit)
}

func TestListTurnsRequiresScope(t *testing.T) {
	svc := NewAdminService(&fakeArchive{}, NewBehaviorMemoryService(newFakeMemoryRepo(), lexicon.Default()))

	_, err := svc.ListTurns(context.Background(), "", 10)

	assert.ErrorIs(t, err, ErrScopeRequired)
}

func TestUserMemory(t *testing.T) {
	repo := newFakeMemoryRepo()
	repo.data["u-1"] = model.BehaviorMemory{Goals: []string{"ozish"}}
	svc := NewAdminService(&fakeArchive{}, NewBehaviorMemoryService(repo, lexicon.Default()))

	mem, err := svc.UserMemory(context.Background(), "u-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"ozish"}, mem.Goals)
}
