package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/dashboard"
	"github.com/gyaneshwarpardhi/alertflow/internal/engine"
	"github.com/gyaneshwarpardhi/alertflow/internal/rules"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/memstore"
	"github.com/gyaneshwarpardhi/alertflow/internal/transition"
	"github.com/gyaneshwarpardhi/alertflow/internal/writer"
)

var now = time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

type fixture struct {
	st  *memstore.Store
	eng *engine.Engine
	srv http.Handler
}

func newFixture(t *testing.T, loader *config.Loader) *fixture {
	t.Helper()
	st := memstore.New()
	eng := engine.New(st, rules.NewEngine(nil), writer.Config{
		BatchLimit:   20,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Consistency:  store.ConsistencyOne,
	}, engine.WithClock(func() time.Time { return now }))
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	if loader != nil {
		eng.FollowConfig(loader)
	}
	return &fixture{st: st, eng: eng, srv: New(eng, dashboard.New(st), loader, WithMaxBatchSize(3))}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func txJSON(amount string, flag any) map[string]any {
	return map[string]any{
		"insert_date":     "2024-03-05",
		"insert_time":     "2024-03-05T13:59:00.123456",
		"transaction_key": uuid.NewString(),
		"session_id":      uuid.NewString(),
		"first_name":      "Grace",
		"last_name":       "Hopper",
		"account_number":  "ACC-42",
		"amount":          json.Number(amount),
		"field_2":         flag,
		"field_3":         "EU",
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ingestAndFlush posts txs and stops the engine so every alert is persisted.
func (f *fixture) ingestAndFlush(t *testing.T, txs ...map[string]any) engine.IngestResult {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/transactions", txs)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[engine.IngestResult](t, rec)
	f.eng.Stop()
	return res
}

func TestIngest_SingleObjectAndArray(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/transactions", txJSON("50000", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[engine.IngestResult](t, rec)
	assert.Equal(t, 1, res.Accepted)
	assert.Len(t, res.Alerts, 1)

	bad := txJSON("10", nil)
	delete(bad, "account_number")
	rec = f.do(t, http.MethodPost, "/v1/transactions", []map[string]any{txJSON("10", nil), bad})
	require.Equal(t, http.StatusAccepted, rec.Code)
	res = decode[engine.IngestResult](t, rec)
	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].Error, "account_number")
}

func TestIngest_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/transactions", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/transactions", []map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	four := []map[string]any{txJSON("1", nil), txJSON("1", nil), txJSON("1", nil), txJSON("1", nil)}
	rec = f.do(t, http.MethodPost, "/v1/transactions", four)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := txJSON("1", nil)
	bad["transaction_key"] = "nope"
	rec = f.do(t, http.MethodPost, "/v1/transactions", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestIngest_StoreUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.st.FailNext(store.ErrWriteTimeout)
	rec := f.do(t, http.MethodPost, "/v1/transactions", txJSON("1", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestScore(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/transactions/score", txJSON("49950.01", "fraud"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[rules.Outcome](t, rec)
	assert.Equal(t, 191, out.Score)
	assert.Equal(t, alert.TypeMultiple, out.Type)
	assert.Equal(t, 0, f.st.AlertCount(), "scoring writes nothing")
}

func TestAlertLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	res := f.ingestAndFlush(t, txJSON("50000", nil))
	id := res.Alerts[0]

	rec := f.do(t, http.MethodGet, "/v1/alerts?status=new&from=2024-03-05&to=2024-03-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[engine.ListResult](t, rec)
	require.Len(t, list.Alerts, 1)
	assert.Equal(t, id, list.Alerts[0].ID)

	rec = f.do(t, http.MethodGet, "/v1/alerts/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Alert       alert.Alert    `json:"alert"`
		Transaction map[string]any `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, 101, detail.Alert.Score)
	assert.Equal(t, "ACC-42", detail.Transaction["account_number"])

	rec = f.do(t, http.MethodPatch, "/v1/alerts/"+id.String()+"/status", map[string]string{"status": "Closed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr := decode[transition.Result](t, rec)
	assert.True(t, tr.Changed)
	assert.Equal(t, alert.StatusClosed, tr.Alert.Status)

	rec = f.do(t, http.MethodGet, "/v1/alerts?status=new", nil)
	assert.Empty(t, decode[engine.ListResult](t, rec).Alerts)
	rec = f.do(t, http.MethodGet, "/v1/alerts?status=all", nil)
	assert.Len(t, decode[engine.ListResult](t, rec).Alerts, 1)

	rec = f.do(t, http.MethodPatch, "/v1/alerts/"+id.String()+"/reviewed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alert.StatusOpen, decode[transition.Result](t, rec).Alert.Status)
}

func TestAlertErrors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/alerts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/alerts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/v1/alerts/"+uuid.NewString()+"/status", map[string]string{"status": "open"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/v1/alerts/"+uuid.NewString()+"/status", map[string]string{"status": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/alerts?from=2024-01-01&to=2024-03-05", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/alerts?page=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboards(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestAndFlush(t, txJSON("50000", nil), txJSON("10", "fraud"))

	rec := f.do(t, http.MethodPost, "/v1/dashboards/all/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]dashboardResponse](t, rec), len(dashboard.Views))

	rec = f.do(t, http.MethodGet, "/v1/dashboards/type", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[dashboardResponse](t, rec)
	assert.Equal(t, []dashboard.Entry{{Bucket: "FRAUD", Count: 1}, {Bucket: "HIGH_SCORE", Count: 1}}, got.Counts)

	rec = f.do(t, http.MethodGet, "/v1/dashboards/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/transactions", []any{txJSON("10", nil), txJSON("20", nil), txJSON("30", nil)})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/transactions?days=1&limit=2&page=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Transactions []map[string]any `json:"transactions"`
		Page         int              `json:"page"`
		Limit        int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Transactions, 2)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, "2024-03-05", page.Transactions[0]["insert_date"])

	rec = f.do(t, http.MethodGet, "/v1/transactions?limit=2&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Transactions, 1)

	for _, q := range []string{"days=-1", "days=x", "days=40", "from=05-03-2024"} {
		rec = f.do(t, http.MethodGet, "/v1/transactions?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRulesListAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alertflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o644))
	loader, err := config.NewLoader(path)
	require.NoError(t, err)
	f := newFixture(t, loader)

	rec := f.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Version     string          `json:"version"`
		AmountSteps []stepView      `json:"amount_steps"`
		Indicators  []indicatorView `json:"indicators"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, "1", listed.Version)
	assert.Len(t, listed.AmountSteps, 6)
	require.Len(t, listed.Indicators, 1)
	assert.Equal(t, 90, listed.Indicators[0].Points)

	yaml := `version: "2"
rules:
  indicators:
    - id: vip
      expression: field_2 == "vip"
      points: 55
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	rec = f.do(t, http.MethodPost, "/v1/rules/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/transactions/score", txJSON("10", "vip"))
	out := decode[rules.Outcome](t, rec)
	assert.Equal(t, 55, out.Score)
	assert.Equal(t, alert.SeverityModerate, out.Severity)

	require.NoError(t, os.WriteFile(path, []byte("rules: [oops"), 0o644))
	rec = f.do(t, http.MethodPost, "/v1/rules/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	broken := `version: "3"
rules:
  indicators:
    - id: half
      expression: field_2 ==
      points: 10
`
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))
	rec = f.do(t, http.MethodPost, "/v1/rules/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "2", loader.Config().Version, "rejected rules keep the previous config")
	require.Len(t, f.eng.Rules().Indicators(), 1)
	assert.Equal(t, "vip", f.eng.Rules().Indicators()[0].ID)
}

func TestReloadWithoutLoader(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/rules/reload", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProbes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alertflow_")
}

func TestFeedIsMountedWhenConfigured(t *testing.T) {
	st := memstore.New()
	eng := engine.New(st, nil, writer.DefaultConfig())
	called := false
	feed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})
	srv := New(eng, dashboard.New(st), nil, WithFeed(feed))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/alerts", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
