package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fitcoach-go/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// recordingMatcher 按正则匹配 SQL，同时记录实际执行的语句。
type recordingMatcher struct {
	mu      sync.Mutex
	queries []string
}

func (m *recordingMatcher) Match(expectedSQL, actualSQL string) error {
	m.mu.Lock()
	m.queries = append(m.queries, actualSQL)
	m.mu.Unlock()
	return sqlmock.QueryMatcherRegexp.Match(expectedSQL, actualSQL)
}

func (m *recordingMatcher) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return ""
	}
	return m.queries[len(m.queries)-1]
}

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *recordingMatcher) {
	t.Helper()
	matcher := &recordingMatcher{}
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(matcher))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock, matcher
}

var memoryColumns = []string{
	"user_id", "goals", "pain_points", "complaints", "emotional_history", "favorite_topics",
	"preferred_time", "last_retention_at", "last_retention_band", "turns_since_retention",
	"extra", "created_at", "updated_at",
}

func TestBehaviorMemoryRepositoryLoad(t *testing.T) {
	db, mock, _ := newMockGorm(t)
	repo := NewBehaviorMemoryRepository(db)
	ts := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT \\* FROM `user_behavior_memories` WHERE user_id = \\?").
		WillReturnRows(sqlmock.NewRows(memoryColumns).AddRow(
			"u1",
			[]byte(`["5 kg ozish"]`),
			[]byte(`["tizza"]`),
			[]byte(`[]`),
			[]byte(`[{"state":"tired","timestamp":"2024-06-01T08:00:00Z"}]`),
			[]byte(`["yoga"]`),
			"morning",
			ts,
			"HIGH",
			1,
			[]byte(`{"plan":"gold"}`),
			ts,
			ts,
		))

	mem, err := repo.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"5 kg ozish"}, mem.Goals)
	assert.Equal(t, []string{"tizza"}, mem.PainPoints)
	require.Len(t, mem.EmotionalHistory, 1)
	assert.Equal(t, model.StateTired, mem.EmotionalHistory[0].State)
	assert.Equal(t, "morning", mem.PreferredTime)
	assert.Equal(t, model.ChurnHigh, mem.Retention.LastBand)
	assert.Equal(t, 1, mem.Retention.TurnsSince)
	require.NotNil(t, mem.Retention.LastAt)
	assert.True(t, ts.Equal(*mem.Retention.LastAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBehaviorMemoryRepositoryLoadMissingReturnsEmpty(t *testing.T) {
	db, mock, _ := newMockGorm(t)
	repo := NewBehaviorMemoryRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `user_behavior_memories`").
		WillReturnRows(sqlmock.NewRows(memoryColumns))

	mem, err := repo.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, mem.Goals)
	assert.Empty(t, mem.EmotionalHistory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBehaviorMemoryRepositoryLoadError(t *testing.T) {
	db, mock, _ := newMockGorm(t)
	repo := NewBehaviorMemoryRepository(db)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))

	_, err := repo.Load(context.Background(), "u1")
	assert.Error(t, err)
}

func TestBehaviorMemoryRepositorySaveLeavesUnrelatedColumns(t *testing.T) {
	db, mock, matcher := newMockGorm(t)
	repo := NewBehaviorMemoryRepository(db)

	mock.ExpectExec("INSERT INTO `user_behavior_memories`.*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Save(context.Background(), "u1", model.BehaviorMemory{
		Goals:     []string{"5 kg ozish"},
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	stmt := matcher.last()
	assert.NotContains(t, stmt, "`extra`")
	assert.NotContains(t, stmt, "`created_at`=")
	assert.True(t, strings.Contains(stmt, "`goals`=VALUES(`goals`)"), stmt)
}

func TestBehaviorMemoryRepositorySaveError(t *testing.T) {
	db, mock, _ := newMockGorm(t)
	repo := NewBehaviorMemoryRepository(db)

	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("deadlock"))

	err := repo.Save(context.Background(), "u1", model.BehaviorMemory{})
	assert.Error(t, err)
}

func TestBehaviorMemoryRecordConversionIsLossless(t *testing.T) {
	at := time.Date(2024, 6, 2, 9, 30, 0, 0, time.UTC)
	mem := model.BehaviorMemory{
		Goals:            []string{"a", "b"},
		PainPoints:       []string{"c"},
		Complaints:       []string{},
		EmotionalHistory: []model.EmotionSnapshot{{State: model.StateMotivated, Timestamp: at}},
		PreferredTime:    "evening",
		FavoriteTopics:   []string{"yoga"},
		Retention:        model.RetentionMarker{LastAt: &at, LastBand: model.ChurnMedium, TurnsSince: 2},
		UpdatedAt:        at,
	}

	rec, err := memoryToRecord("u1", mem)
	require.NoError(t, err)
	back, err := recordToMemory(rec)
	require.NoError(t, err)
	assert.Equal(t, mem, back)
}
