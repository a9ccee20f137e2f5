package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/dashboard"
	"github.com/gyaneshwarpardhi/alertflow/internal/engine"
	"github.com/gyaneshwarpardhi/alertflow/internal/metrics"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

const defaultMaxBatchSize = 1000

// Option configures the Handler.
type Option func(*Handler)

// WithFeed mounts the live alert feed on GET /ws/alerts.
func WithFeed(feed http.Handler) Option { return func(h *Handler) { h.feed = feed } }

func WithMaxBatchSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBatch = n
		}
	}
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng      *engine.Engine
	dash     *dashboard.Service
	loader   *config.Loader
	feed     http.Handler
	maxBatch int
	mux      *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// in which case rule reloads are rejected.
func New(eng *engine.Engine, dash *dashboard.Service, loader *config.Loader, opts ...Option) http.Handler {
	h := &Handler{eng: eng, dash: dash, loader: loader, maxBatch: defaultMaxBatchSize, mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}

	h.mux.HandleFunc("POST /v1/transactions", h.ingest)
	h.mux.HandleFunc("POST /v1/transactions/score", h.score)
	h.mux.HandleFunc("GET /v1/transactions", h.listTransactions)
	h.mux.HandleFunc("GET /v1/alerts", h.listAlerts)
	h.mux.HandleFunc("GET /v1/alerts/{id}", h.getAlert)
	h.mux.HandleFunc("PATCH /v1/alerts/{id}/status", h.setStatus)
	h.mux.HandleFunc("PATCH /v1/alerts/{id}/reviewed", h.markReviewed)
	h.mux.HandleFunc("GET /v1/dashboards/{view}", h.getDashboard)
	h.mux.HandleFunc("POST /v1/dashboards/{view}/refresh", h.refreshDashboard)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	if h.feed != nil {
		h.mux.Handle("GET /ws/alerts", h.feed)
	}

	return loggingMiddleware(h.mux)
}

// decodeObjects accepts a single JSON object or an array of objects.
// Numbers are kept as json.Number so amounts stay exact.
func decodeObjects(r io.Reader) ([]map[string]any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if len(body) > 0 && body[0] == '[' {
		var many []map[string]any
		if err := dec.Decode(&many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one map[string]any
	if err := dec.Decode(&one); err != nil {
		return nil, err
	}
	return []map[string]any{one}, nil
}

// POST /v1/transactions: store transactions and queue any alerts they raise.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	raws, err := decodeObjects(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(raws) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one transaction")
		return
	}
	if len(raws) > h.maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(raws), h.maxBatch))
		return
	}

	var rejected []engine.ItemError
	txs := make([]*txn.Transaction, 0, len(raws))
	index := make([]int, 0, len(raws))
	for i, raw := range raws {
		tx, err := txn.Parse(raw)
		if err != nil {
			rejected = append(rejected, engine.ItemError{Index: i, Error: err.Error()})
			continue
		}
		txs = append(txs, tx)
		index = append(index, i)
	}

	res := &engine.IngestResult{Alerts: []uuid.UUID{}}
	if len(txs) > 0 {
		res, err = h.eng.Ingest(r.Context(), txs)
		if err != nil {
			writeErr(w, err)
			return
		}
		for i := range res.Rejected {
			res.Rejected[i].Index = index[res.Rejected[i].Index]
		}
	}
	res.Rejected = append(rejected, res.Rejected...)

	status := http.StatusAccepted
	if res.Accepted == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// POST /v1/transactions/score: dry-run the rules against one transaction.
func (h *Handler) score(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	tx, err := txn.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.eng.Score(tx)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/alerts?status=new,open&from=2024-03-01&to=2024-03-05&page=1&limit=50
// status defaults to new; "all" expands to every known status.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var lq engine.ListQuery
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		if s == "all" {
			lq.Statuses = append(lq.Statuses, alert.KnownStatuses...)
			continue
		}
		st, err := alert.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lq.Statuses = append(lq.Statuses, st)
	}
	var err error
	if lq.From, err = parseDateParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	if lq.To, err = parseDateParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if lq.Page, err = parseIntParam(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "page: "+err.Error())
		return
	}
	if lq.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}

	res, err := h.eng.ListAlerts(r.Context(), lq)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/transactions?days=3&page=1&limit=20
// The window ends at "to" (default today) and spans "days" days unless
// "from" is given.
func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var tq engine.TxQuery
	var err error
	if tq.From, err = parseDateParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	if tq.To, err = parseDateParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if tq.Days, err = parseIntParam(q.Get("days")); err != nil || tq.Days < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("days: invalid value %q", q.Get("days")))
		return
	}
	if tq.Page, err = parseIntParam(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "page: "+err.Error())
		return
	}
	if tq.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}

	res, err := h.eng.ListTransactions(r.Context(), tq)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseDateParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(txn.DateLayout, s)
}

func parseIntParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid alert id %q", r.PathValue("id")))
		return uuid.Nil, false
	}
	return id, true
}

// GET /v1/alerts/{id}: alert plus its originating transaction.
func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.eng.AlertDetail(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type statusRequest struct {
	Status string `json:"status"`
}

// PATCH /v1/alerts/{id}/status: move an alert to another status.
func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	status, err := alert.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.eng.Transition(r.Context(), id, status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PATCH /v1/alerts/{id}/reviewed: open the alert and mark it reviewed.
func (h *Handler) markReviewed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.eng.MarkReviewed(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type dashboardResponse struct {
	View   dashboard.View    `json:"view"`
	Counts []dashboard.Entry `json:"counts"`
}

// GET /v1/dashboards/{view}
func (h *Handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	v, err := dashboard.ParseView(r.PathValue("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := h.dash.Get(r.Context(), v)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{View: v, Counts: dashboard.Sorted(counts)})
}

// POST /v1/dashboards/{view}/refresh: recompute one view, or every view
// for "all".
func (h *Handler) refreshDashboard(w http.ResponseWriter, r *http.Request) {
	var views []dashboard.View
	if name := r.PathValue("view"); name != "all" {
		v, err := dashboard.ParseView(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		views = append(views, v)
	}
	all, err := h.dash.Refresh(r.Context(), views...)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]dashboardResponse, 0, len(all))
	for _, v := range dashboard.Views {
		if counts, ok := all[v]; ok {
			out = append(out, dashboardResponse{View: v, Counts: dashboard.Sorted(counts)})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type stepView struct {
	Above string `json:"above"`
	Score int    `json:"score"`
}

type indicatorView struct {
	ID          string `json:"id"`
	Expression  string `json:"expression"`
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// GET /v1/rules: the active rule set.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rs := h.eng.Rules()
	steps := make([]stepView, 0)
	for _, s := range rs.Steps() {
		steps = append(steps, stepView{Above: s.Above.String(), Score: s.Score})
	}
	inds := make([]indicatorView, 0)
	for _, ind := range rs.Indicators() {
		inds = append(inds, indicatorView{
			ID:          ind.ID,
			Expression:  ind.Expr.String(),
			Points:      ind.Points,
			Description: ind.Description,
		})
	}
	version := ""
	if h.loader != nil {
		version = h.loader.Config().Version
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":      version,
		"amount_steps": steps,
		"indicators":   inds,
	})
}

// POST /v1/rules/reload: hot-reload rules from disk.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusConflict, "no config file to reload from")
		return
	}
	if _, err := h.loader.Reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rs := h.eng.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":     true,
		"amount_steps": len(rs.Steps()),
		"indicators":   len(rs.Indicators()),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the store is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	depth := h.eng.QueueDepth()
	metrics.QueueDepth.Set(float64(depth))

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.eng.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":      "unavailable",
			"queue_depth": depth,
			"error":       err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ready",
		"queue_depth": depth,
	})
}
