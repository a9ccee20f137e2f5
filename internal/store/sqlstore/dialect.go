package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/gyaneshwarpardhi/alertflow/internal/store"
)

// dialect captures what differs between the supported SQL engines.
type dialect struct {
	name     string
	driver   string
	numbered bool // $1, $2 placeholders instead of ?
	setup    func(*sql.DB) error
	classify func(error) store.Class
}

var dialects = map[string]*dialect{
	"sqlite": {
		name:     "sqlite",
		driver:   "sqlite3",
		setup:    setupSQLite,
		classify: classifySQLite,
	},
	"postgres": {
		name:     "postgres",
		driver:   "postgres",
		numbered: true,
		setup:    setupPostgres,
		classify: classifyPostgres,
	},
}

func lookupDialect(name string) (*dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return dialects["sqlite"], nil
	case "postgres", "postgresql", "pq":
		return dialects["postgres"], nil
	}
	return nil, fmt.Errorf("sqlstore: unknown driver %q", name)
}

// rebind rewrites ? placeholders for dialects that number them.
func (d *dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func setupSQLite(db *sql.DB) error {
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

func setupPostgres(db *sql.DB) error {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return nil
}

func classifySQLite(err error) store.Class {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return store.Transient
		}
		return store.Permanent
	}
	return classifyCommon(err)
}

// Serialization failures (40), connection exceptions (08), insufficient
// resources (53) and statement timeouts are worth another attempt.
func classifyPostgres(err error) store.Class {
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code.Class() {
		case "40", "08", "53":
			return store.Transient
		}
		if pe.Code == "57014" {
			return store.Transient
		}
		return store.Permanent
	}
	return classifyCommon(err)
}

func classifyCommon(err error) store.Class {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return store.Transient
	}
	return store.DefaultClassifier.Classify(err)
}
