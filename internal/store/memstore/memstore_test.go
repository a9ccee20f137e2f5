package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

func newAlert(created time.Time) alert.Alert {
	return alert.FromDraft(alert.Pending{
		Draft: alert.Draft{
			ID:             uuid.New(),
			Score:          91,
			Severity:       alert.SeverityCritical,
			Type:           alert.TypeHighScore,
			AccountNumber:  "ACC-1",
			Amount:         decimal.RequireFromString("49900"),
			Date:           created,
			TransactionKey: uuid.New(),
		},
		EventTime: created,
	})
}

func putBoth(a alert.Alert) *store.Batch {
	b := store.NewBatch(store.ConsistencyOne)
	b.Add(store.PutAlert{Alert: a}, store.PutStatusRow{Alert: a})
	return b
}

func TestExecBatch_AppliesAllViews(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	a := newAlert(now)

	require.NoError(t, s.ExecBatch(ctx, putBoth(a)))

	got, err := s.AlertByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusNew, got.Status)

	rows, err := s.AlertsByStatus(ctx, alert.StatusNew, now, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a.ID, rows[0].ID)

	assert.Equal(t, []BatchRecord{{Size: 2, Consistency: store.ConsistencyOne}}, s.Applied())
}

func TestExecBatch_InjectedFailureAppliesNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newAlert(time.Now())
	s.FailNext(store.ErrWriteTimeout)

	err := s.ExecBatch(ctx, putBoth(a))
	require.ErrorIs(t, err, store.ErrWriteTimeout)
	assert.Equal(t, 0, s.AlertCount())
	assert.Empty(t, s.StatusRows(a.ID))

	require.NoError(t, s.ExecBatch(ctx, putBoth(a)))
	assert.Equal(t, 1, s.AlertCount())
	assert.Equal(t, 2, s.Attempts())
}

func TestExecBatch_FailFunc(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.SetFailFunc(func(b *store.Batch) error {
		if b.Len() > 2 {
			return boom
		}
		return nil
	})

	b := putBoth(newAlert(time.Now()))
	b.Add(store.PutAlert{Alert: newAlert(time.Now())})
	assert.ErrorIs(t, s.ExecBatch(context.Background(), b), boom)
	assert.Equal(t, 0, s.AlertCount())
}

func TestTransitionBatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newAlert(time.Now())
	require.NoError(t, s.ExecBatch(ctx, putBoth(a)))

	moved := a.WithStatus(alert.StatusOpen)
	b := store.NewBatch(store.ConsistencyOne)
	b.Add(
		store.DeleteStatusRow{Key: a.StatusKey()},
		store.PutStatusRow{Alert: moved},
		store.SetAlertStatus{ID: a.ID, Status: alert.StatusOpen},
	)
	require.NoError(t, s.ExecBatch(ctx, b))

	rows := s.StatusRows(a.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, alert.StatusOpen, rows[0].Status)

	got, err := s.AlertByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusOpen, got.Status)
	assert.Equal(t, a.AccountNumber, got.AccountNumber, "update must keep the other columns")
}

func TestAlertsByStatus_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		a := newAlert(day.Add(time.Duration(i) * time.Hour))
		ids = append(ids, a.ID)
		require.NoError(t, s.ExecBatch(ctx, putBoth(a)))
	}
	other := newAlert(day.AddDate(0, 0, 1))
	require.NoError(t, s.ExecBatch(ctx, putBoth(other)))

	rows, err := s.AlertsByStatus(ctx, alert.StatusNew, day, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[2], rows[0].ID)
	assert.Equal(t, ids[1], rows[1].ID)
}

func TestTransactionsByDate(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	b := store.NewBatch(store.ConsistencyOne)
	var keys []uuid.UUID
	for i := 0; i < 3; i++ {
		tx := &txn.Transaction{
			InsertDate:     day,
			InsertTime:     day.Add(time.Duration(i) * time.Minute),
			TransactionKey: uuid.New(),
			AccountNumber:  "ACC-1",
		}
		keys = append(keys, tx.TransactionKey)
		b.Add(store.PutTransaction{Tx: tx})
	}
	b.Add(store.PutTransaction{Tx: &txn.Transaction{
		InsertDate:     day.AddDate(0, 0, -1),
		InsertTime:     day.Add(-time.Hour),
		TransactionKey: uuid.New(),
		AccountNumber:  "ACC-2",
	}})
	require.NoError(t, s.ExecBatch(ctx, b))

	rows, err := s.TransactionsByDate(ctx, day.Add(15*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, keys[2], rows[0].TransactionKey)
	assert.Equal(t, keys[1], rows[1].TransactionKey)

	rows, err = s.TransactionsByDate(ctx, day, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestNotFound(t *testing.T) {
	_, err := New().AlertByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCountsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	in := map[string]int64{"HIGH_SCORE": 2}
	require.NoError(t, s.ReplaceCounts(ctx, "type", in))
	in["HIGH_SCORE"] = 99

	got, err := s.Counts(ctx, "type")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"HIGH_SCORE": 2}, got)
}
