package transition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/memstore"
)

func seed(t *testing.T, st *memstore.Store) alert.Alert {
	t.Helper()
	now := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	a := alert.FromDraft(alert.Pending{
		Draft: alert.Draft{
			ID:             uuid.New(),
			Score:          101,
			Severity:       alert.SeverityCritical,
			Type:           alert.TypeHighScore,
			AccountNumber:  "ACC-7",
			Amount:         decimal.NewFromInt(50000),
			Date:           now,
			TransactionKey: uuid.New(),
		},
		EventTime: now,
	})
	b := store.NewBatch(store.ConsistencyOne)
	b.Add(store.PutAlert{Alert: a}, store.PutStatusRow{Alert: a})
	require.NoError(t, st.ExecBatch(context.Background(), b))
	return a
}

func statusRowsWith(ctx context.Context, t *testing.T, st store.Store, a alert.Alert, s alert.Status) int {
	t.Helper()
	rows, err := st.AlertsByStatus(ctx, s, a.Date, 0)
	require.NoError(t, err)
	n := 0
	for _, r := range rows {
		if r.ID == a.ID {
			n++
		}
	}
	return n
}

func TestTransition_MovesRowBetweenViews(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)
	c := New(st)

	res, err := c.Transition(ctx, a.ID, alert.StatusOpen)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, alert.StatusNew, res.From)
	assert.Equal(t, alert.StatusOpen, res.Alert.Status)
	assert.True(t, res.Alert.Reviewed, "leaving new marks the alert reviewed")

	assert.Equal(t, 0, statusRowsWith(ctx, t, st, a, alert.StatusNew))
	assert.Equal(t, 1, statusRowsWith(ctx, t, st, a, alert.StatusOpen))

	got, err := st.AlertByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusOpen, got.Status)
	assert.True(t, got.Reviewed)
}

func TestTransition_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)
	c := New(st)

	_, err := c.Transition(ctx, a.ID, alert.StatusOpen)
	require.NoError(t, err)
	attempts := st.Attempts()

	res, err := c.Transition(ctx, a.ID, alert.StatusOpen)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, attempts, st.Attempts(), "second call must not write")

	rows := st.StatusRows(a.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, alert.StatusOpen, rows[0].Status)
}

func TestTransition_InvariantAcrossSequence(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)
	c := New(st)

	prev := alert.StatusNew
	for _, s := range []alert.Status{alert.StatusOpen, alert.StatusClosed, "escalated", alert.StatusNew, alert.StatusClosed} {
		_, err := c.Transition(ctx, a.ID, s)
		require.NoError(t, err)

		assert.Equal(t, 0, statusRowsWith(ctx, t, st, a, prev), "row left behind in %s", prev)
		assert.Equal(t, 1, statusRowsWith(ctx, t, st, a, s), "missing row in %s", s)
		assert.Len(t, st.StatusRows(a.ID), 1)
		prev = s
	}
}

func TestTransition_ReviewedIsPreservedBetweenOtherStatuses(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)

	// An alert that was never reviewed and sits in a non-new status stays
	// unreviewed when moved.
	b := store.NewBatch(store.ConsistencyOne)
	moved := a.WithStatus(alert.StatusOpen)
	b.Add(
		store.DeleteStatusRow{Key: a.StatusKey()},
		store.PutStatusRow{Alert: moved},
		store.SetAlertStatus{ID: a.ID, Status: alert.StatusOpen},
	)
	require.NoError(t, st.ExecBatch(ctx, b))

	res, err := New(st).Transition(ctx, a.ID, alert.StatusClosed)
	require.NoError(t, err)
	assert.False(t, res.Alert.Reviewed)
}

func TestTransition_NotFound(t *testing.T) {
	id := uuid.New()
	_, err := New(memstore.New()).Transition(context.Background(), id, alert.StatusOpen)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, id, nf.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransition_EmptyStatus(t *testing.T) {
	_, err := New(memstore.New()).Transition(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTransition_StoreFailureIsSurfacedWithoutRetry(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)
	before := st.Attempts()
	st.FailNext(store.ErrWriteTimeout)

	_, err := New(st).Transition(ctx, a.ID, alert.StatusClosed)
	require.ErrorIs(t, err, store.ErrWriteTimeout)
	assert.Equal(t, before+1, st.Attempts())

	rows := st.StatusRows(a.ID)
	require.Len(t, rows, 1, "failed batch leaves the alert visible in its old status")
	assert.Equal(t, alert.StatusNew, rows[0].Status)
}

func TestMarkReviewed(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)
	c := New(st)

	res, err := c.MarkReviewed(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, alert.StatusOpen, res.Alert.Status)
	assert.True(t, res.Alert.Reviewed)

	res, err = c.MarkReviewed(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	rows := st.StatusRows(a.ID)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Reviewed)
}

func TestMarkReviewed_OpenButUnreviewedKeepsRow(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)

	b := store.NewBatch(store.ConsistencyOne)
	b.Add(
		store.DeleteStatusRow{Key: a.StatusKey()},
		store.PutStatusRow{Alert: a.WithStatus(alert.StatusOpen)},
		store.SetAlertStatus{ID: a.ID, Status: alert.StatusOpen},
	)
	require.NoError(t, st.ExecBatch(ctx, b))

	res, err := New(st).MarkReviewed(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	rows := st.StatusRows(a.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, alert.StatusOpen, rows[0].Status)
	assert.True(t, rows[0].Reviewed)
}

func TestTransition_KeyedMutexSerializesConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := seed(t, st)
	km := NewKeyedMutex()
	c := New(st, WithLocker(km))

	statuses := []alert.Status{alert.StatusOpen, alert.StatusClosed, "escalated", alert.StatusNew}
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Transition(ctx, a.ID, statuses[i%len(statuses)])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rows := st.StatusRows(a.ID)
	require.Len(t, rows, 1)
	got, err := st.AlertByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Status, rows[0].Status)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock(uuid.New())

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock(uuid.New())
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlockA()
}

func TestNotFoundError_IsNotOtherErrors(t *testing.T) {
	err := error(&NotFoundError{ID: uuid.New()})
	assert.False(t, errors.Is(err, store.ErrWriteTimeout))
}
