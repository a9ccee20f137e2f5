package writer

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
	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/queue"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/memstore"
)

var testConf = Config{
	BatchLimit:   20,
	MaxAttempts:  3,
	RetryBackoff: time.Millisecond,
	PollInterval: 10 * time.Millisecond,
	Consistency:  store.ConsistencyOne,
}

func pending(i int) alert.Pending {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second)
	return alert.Pending{
		Draft: alert.Draft{
			ID:              uuid.New(),
			Tenant:          1,
			Score:           91,
			Severity:        alert.SeverityCritical,
			Type:            alert.TypeHighScore,
			AccountNumber:   "ACC-1",
			Amount:          decimal.NewFromInt(49900),
			Date:            now,
			TransactionKey:  uuid.New(),
			TransactionTime: now,
			TransactionDate: now,
		},
		EventTime: now,
	}
}

func fill(q *queue.Queue[alert.Pending], n int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		p := pending(i)
		ids = append(ids, p.Draft.ID)
		q.Enqueue(p)
	}
	return ids
}

func TestWriter_BatchesRespectLimit(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()
	ids := fill(q, 45)

	w := New(q, st, testConf)
	w.Start(context.Background())
	w.Stop()

	applied := st.Applied()
	assert.GreaterOrEqual(t, len(applied), 3)
	for _, b := range applied {
		assert.LessOrEqual(t, b.Size, 2*testConf.BatchLimit, "one row per view per alert")
		assert.Equal(t, store.ConsistencyOne, b.Consistency)
	}

	assert.Equal(t, 45, st.AlertCount())
	for _, id := range ids {
		got, err := st.AlertByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, alert.StatusNew, got.Status)
		assert.Len(t, st.StatusRows(id), 1)
	}
	assert.Equal(t, int64(45), w.Stats().Persisted)
	assert.Equal(t, 0, q.Len())
}

func TestWriter_BatchLimitOne(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()
	fill(q, 4)

	conf := testConf
	conf.BatchLimit = 1
	w := New(q, st, conf)
	w.Start(context.Background())
	w.Stop()

	applied := st.Applied()
	require.Len(t, applied, 4)
	for _, b := range applied {
		assert.Equal(t, 2, b.Size)
	}
	assert.Equal(t, 0, q.Len())
}

func TestWriter_RetriesTransientFailures(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()
	st.FailNext(store.ErrWriteTimeout, store.ErrWriteTimeout)
	ids := fill(q, 1)

	w := New(q, st, testConf)
	var slept []time.Duration
	w.sleep = func(d time.Duration) { slept = append(slept, d) }
	w.Start(context.Background())
	w.Stop()

	assert.Equal(t, 3, st.Attempts())
	assert.Len(t, st.Applied(), 1, "persisted exactly once")
	assert.Len(t, st.StatusRows(ids[0]), 1)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, slept)
	assert.Equal(t, Stats{Batches: 1, Persisted: 1, Retries: 2}, w.Stats())
}

func TestWriter_DropsAfterMaxAttempts(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()
	st.FailNext(store.ErrWriteTimeout, store.ErrWriteTimeout, store.ErrWriteTimeout)
	fill(q, 2)

	w := New(q, st, testConf)
	var slept int
	w.sleep = func(time.Duration) { slept++ }
	w.Start(context.Background())
	w.Stop()

	assert.Equal(t, 3, st.Attempts())
	assert.Equal(t, 2, slept, "no sleep after the final attempt")
	assert.Equal(t, 0, st.AlertCount())
	assert.Equal(t, int64(2), w.Stats().Dropped)
}

func TestWriter_PermanentFailureIsNotRetried(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()
	st.FailNext(errors.New("invalid query"))
	fill(q, 1)

	w := New(q, st, testConf)
	w.Start(context.Background())
	w.Stop()

	assert.Equal(t, 1, st.Attempts())
	assert.Equal(t, 0, st.AlertCount())
}

func TestWriter_CustomClassifier(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()
	flaky := errors.New("coordinator overloaded")
	st.FailNext(flaky)
	fill(q, 1)

	w := New(q, st, testConf, WithClassifier(store.ClassifierFunc(func(err error) store.Class {
		if errors.Is(err, flaky) {
			return store.Transient
		}
		return store.Permanent
	})))
	w.sleep = func(time.Duration) {}
	w.Start(context.Background())
	w.Stop()

	assert.Equal(t, 2, st.Attempts())
	assert.Equal(t, 1, st.AlertCount())
}

func TestWriter_DropsInvalidDrafts(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()

	bad := pending(0)
	bad.Draft.TransactionKey = uuid.Nil
	q.Enqueue(bad)
	good := pending(1)
	q.Enqueue(good)

	w := New(q, st, testConf)
	w.Start(context.Background())
	w.Stop()

	assert.Equal(t, 1, st.AlertCount())
	_, err := st.AlertByID(context.Background(), good.Draft.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), w.Stats().Dropped)
}

func TestWriter_PicksUpLateArrivals(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()

	var mu sync.Mutex
	var notified int
	w := New(q, st, testConf, WithOnPersist(func(_ context.Context, as []alert.Alert) {
		mu.Lock()
		notified += len(as)
		mu.Unlock()
	}))
	w.Start(context.Background())
	defer w.Stop()

	fill(q, 5)
	require.Eventually(t, func() bool { return st.AlertCount() == 5 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, notified)
}

func TestWriter_StopsWhenQueueCloses(t *testing.T) {
	q := queue.New[alert.Pending]()
	st := memstore.New()
	w := New(q, st, testConf)
	w.Start(context.Background())

	fill(q, 3)
	q.Close()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop after queue close")
	}
	assert.Equal(t, 3, st.AlertCount())
	w.Stop()
}

func TestWriter_StopWithoutStart(t *testing.T) {
	w := New(queue.New[alert.Pending](), memstore.New(), testConf)
	w.Stop()
	w.Stop()
}

func TestConfigFrom(t *testing.T) {
	c, err := ConfigFrom(config.WriterConf{BatchLimit: 50, RetryBackoffMs: 10, Consistency: "local_quorum"})
	require.NoError(t, err)
	assert.Equal(t, 50, c.BatchLimit)
	assert.Equal(t, 3, c.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, c.RetryBackoff)
	assert.Equal(t, time.Second, c.PollInterval)
	assert.Equal(t, store.ConsistencyLocalQuorum, c.Consistency)

	_, err = ConfigFrom(config.WriterConf{Consistency: "TWO"})
	assert.Error(t, err)
}
