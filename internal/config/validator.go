package config

import (
	"fmt"
	"strings"
)

var (
	knownDrivers     = []string{"memory", "sqlite", "sqlite3", "postgres", "cassandra"}
	knownLevels      = []string{"debug", "info", "warn", "error"}
	knownFormats     = []string{"text", "json"}
	knownConsistency = []string{"ONE", "LOCAL_ONE", "QUORUM", "LOCAL_QUORUM", "ALL"}
)

// Validate checks the config for:
//   - Unknown enum values (driver, log level and format, consistency)
//   - Backend settings required by the selected driver
//   - Non-negative writer tuning
//   - Rule sections: positive scores, unique indicator IDs, non-empty expressions
//
// Expressions are only compiled by the rules package.
func Validate(cfg *AppConfig) error {
	var errs []string

	oneOf(&errs, "store.driver", strings.ToLower(cfg.Store.Driver), knownDrivers)
	oneOf(&errs, "log.level", strings.ToLower(cfg.Log.Level), knownLevels)
	oneOf(&errs, "log.format", strings.ToLower(cfg.Log.Format), knownFormats)
	if cfg.Store.Consistency != "" {
		oneOf(&errs, "store.consistency", strings.ToUpper(cfg.Store.Consistency), knownConsistency)
	}
	oneOf(&errs, "writer.consistency", strings.ToUpper(cfg.Writer.Consistency), knownConsistency)
	oneOf(&errs, "transition.consistency", strings.ToUpper(cfg.Transition.Consistency), knownConsistency)

	switch strings.ToLower(cfg.Store.Driver) {
	case "sqlite", "sqlite3", "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, fmt.Sprintf("store.dsn is required for driver %s", cfg.Store.Driver))
		}
	case "cassandra":
		if len(cfg.Store.Hosts) == 0 {
			errs = append(errs, "store.hosts is required for driver cassandra")
		}
		if cfg.Store.Keyspace == "" {
			errs = append(errs, "store.keyspace is required for driver cassandra")
		}
	}

	if cfg.Writer.BatchLimit < 0 {
		errs = append(errs, "writer.batch_limit must not be negative")
	}
	if cfg.Writer.MaxAttempts < 0 {
		errs = append(errs, "writer.max_attempts must not be negative")
	}
	if cfg.Writer.RetryBackoffMs < 0 || cfg.Writer.PollIntervalMs < 0 {
		errs = append(errs, "writer durations must not be negative")
	}
	if cfg.Dashboard.CacheTTLSec < 0 || cfg.Dashboard.RefreshIntervalSec < 0 {
		errs = append(errs, "dashboard intervals must not be negative")
	}

	for i, s := range cfg.Rules.AmountSteps {
		if s.Score <= 0 {
			errs = append(errs, fmt.Sprintf("rules.amount_steps[%d]: score must be positive", i))
		}
	}
	ids := make(map[string]int)
	for i, ind := range cfg.Rules.Indicators {
		if ind.ID == "" {
			errs = append(errs, fmt.Sprintf("rules.indicators[%d]: id is required", i))
			continue
		}
		if prev, ok := ids[ind.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate indicator id %q (first seen at %d, again at %d)", ind.ID, prev, i))
		} else {
			ids[ind.ID] = i
		}
		if strings.TrimSpace(ind.Expression) == "" {
			errs = append(errs, fmt.Sprintf("indicator %s: expression is required", ind.ID))
		}
		if ind.Points <= 0 {
			errs = append(errs, fmt.Sprintf("indicator %s: points must be positive", ind.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func oneOf(errs *[]string, field, v string, allowed []string) {
	for _, a := range allowed {
		if v == a {
			return
		}
	}
	*errs = append(*errs, fmt.Sprintf("%s: %q is not one of %s", field, v, strings.Join(allowed, ", ")))
}
