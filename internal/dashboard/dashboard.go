// Package dashboard keeps per-view alert counts for the operator dashboard.
//
// Counts are recomputed by a full scan of the by-status view and overwrite
// the previous numbers. They are a reporting aid only and are never used to
// reconcile the alert views.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/metrics"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
)

// View names one aggregation.
type View string

const (
	ViewType       View = "type"
	ViewTenant     View = "tenant"
	ViewRegion     View = "region"
	ViewScoreRange View = "score_range"
)

// Views lists every supported view.
var Views = []View{ViewType, ViewTenant, ViewRegion, ViewScoreRange}

func ParseView(s string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Views {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown dashboard view %q", s)
}

// UnknownRegion is the bucket for alerts without a region.
const UnknownRegion = "unknown"

var scoreBuckets = []struct {
	max   int
	label string
}{
	{60, "0-60"},
	{65, "61-65"},
	{70, "66-70"},
	{75, "71-75"},
	{80, "76-80"},
	{85, "81-85"},
	{90, "86-90"},
	{95, "91-95"},
}

// ScoreBucket returns the score range label for score. Anything above 95
// falls in the top bucket, including scores above 100.
func ScoreBucket(score int) string {
	for _, b := range scoreBuckets {
		if score <= b.max {
			return b.label
		}
	}
	return "96-100"
}

func bucketOf(v View, a *alert.Alert) string {
	switch v {
	case ViewType:
		return string(a.Type)
	case ViewTenant:
		return strconv.FormatInt(a.Tenant, 10)
	case ViewRegion:
		if a.Region == "" {
			return UnknownRegion
		}
		return a.Region
	case ViewScoreRange:
		return ScoreBucket(a.Score)
	}
	return ""
}

// Entry is one bucket of a view, used for ordered output.
type Entry struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// Sorted orders counts by bucket name.
func Sorted(counts map[string]int64) []Entry {
	out := make([]Entry, 0, len(counts))
	for k, v := range counts {
		out = append(out, Entry{Bucket: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out
}

// Option configures a Service.
type Option func(*Service)

// WithCache puts a read cache in front of the stored counts.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// Service recomputes and serves dashboard counts.
type Service struct {
	st     store.Store
	cache  Cache
	logger *slog.Logger
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{st: st, cache: nopCache{}, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Refresh recomputes views (all of them when none are given) from a single
// scan and overwrites the stored counts.
func (s *Service) Refresh(ctx context.Context, views ...View) (map[View]map[string]int64, error) {
	if len(views) == 0 {
		views = Views
	}
	counts := make(map[View]map[string]int64, len(views))
	for _, v := range views {
		counts[v] = make(map[string]int64)
	}

	start := time.Now()
	err := s.st.ScanStatusRows(ctx, func(a alert.Alert) error {
		for _, v := range views {
			counts[v][bucketOf(v, &a)]++
		}
		return nil
	})
	if err != nil {
		for _, v := range views {
			metrics.DashboardRebuilds.WithLabelValues(string(v), "error").Inc()
		}
		return nil, fmt.Errorf("scan alerts: %w", err)
	}

	for _, v := range views {
		if err := s.st.ReplaceCounts(ctx, string(v), counts[v]); err != nil {
			metrics.DashboardRebuilds.WithLabelValues(string(v), "error").Inc()
			return nil, fmt.Errorf("store %s counts: %w", v, err)
		}
		if err := s.cache.Invalidate(ctx, v); err != nil {
			s.logger.Warn("dashboard cache invalidate failed", "view", v, "err", err)
		}
		metrics.DashboardRebuilds.WithLabelValues(string(v), "success").Inc()
	}
	s.logger.Info("dashboard refreshed", "views", len(views), "duration", time.Since(start))
	return counts, nil
}

// Get returns the stored counts of v, through the cache when one is set.
// Cache failures fall back to the store.
func (s *Service) Get(ctx context.Context, v View) (map[string]int64, error) {
	if counts, ok, err := s.cache.Get(ctx, v); err != nil {
		s.logger.Warn("dashboard cache read failed", "view", v, "err", err)
	} else if ok {
		return counts, nil
	}

	counts, err := s.st.Counts(ctx, string(v))
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, v, counts); err != nil {
		s.logger.Warn("dashboard cache write failed", "view", v, "err", err)
	}
	return counts, nil
}

// RunPeriodic refreshes every view each interval until ctx is done.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("periodic dashboard refresh failed", "err", err)
			}
		}
	}
}
