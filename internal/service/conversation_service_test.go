package service

import (
	"context"
	"errors"
	"testing"

	"fitcoach-go/internal/model"
	"fitcoach-go/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAppendAndLoad(t *testing.T) {
	repo := newFakeConversationRepo()
	svc := NewConversationService(repo, nil)
	ctx := context.Background()

	first := svc.Append(ctx, "user:1", model.RoleUser, "salom", "", nil)
	svc.Append(ctx, "user:1", model.RoleAssistant, "Assalomu alaykum", model.TopicGeneral, map[string]interface{}{model.MetaRetention: true})
	svc.Append(ctx, "session:abc", model.RoleUser, "boshqa", "", nil)

	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	msgs, err := svc.LoadRecent(ctx, "user:1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.True(t, msgs[1].HasRetention())

	msgs, err = svc.LoadRecent(ctx, "user:1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
}

func TestConversationAppendSwallowsStoreErrors(t *testing.T) {
	repo := newFakeConversationRepo()
	repo.appendErr = errors.New("redis down")
	m := metrics.New()
	svc := NewConversationService(repo, m)

	msg := svc.Append(context.Background(), "user:1", model.RoleUser, "salom", "", nil)

	assert.Equal(t, "salom", msg.Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("conversation")))
}
