// Package backend opens the store.Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/cassandra"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/memstore"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/sqlstore"
)

// Open returns a ready store for conf.Driver.
func Open(ctx context.Context, conf config.StoreConf) (store.Store, error) {
	switch strings.ToLower(conf.Driver) {
	case "", "memory":
		return memstore.New(), nil
	case "sqlite", "sqlite3", "postgres":
		s, err := sqlstore.Open(ctx, conf.Driver, conf.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "cassandra":
		c, err := store.ParseConsistency(conf.Consistency)
		if err != nil {
			return nil, err
		}
		s, err := cassandra.Open(cassandra.Config{
			Hosts:        conf.Hosts,
			Keyspace:     conf.Keyspace,
			LocalDC:      conf.LocalDC,
			Timeout:      time.Duration(conf.TimeoutMs) * time.Millisecond,
			Consistency:  c,
			CreateSchema: true,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", conf.Driver)
}
