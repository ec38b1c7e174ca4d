// Package store persists finished session results.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/leonardotrapani/sttbench/internal/session"
)

var ErrNotFound = errors.New("session not found")

// Store keeps session results keyed by session id.
type Store interface {
	Save(ctx context.Context, res session.Result) error
	Get(ctx context.Context, id string) (session.Result, error)
	List(ctx context.Context) ([]Summary, error)
	Remove(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// Summary is the listing form of a stored session.
type Summary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Language  string    `json:"language"`
	Providers []string  `json:"providers"`
}

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	Driver string
	// TTL expires results in the redis driver; zero keeps them for a week.
	TTL    time.Duration
	Redis  *RedisConfig
	SQLite *SQLiteConfig
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

type SQLiteConfig struct {
	DSN string
}

// New creates the store named by cfg.Driver; memory when empty.
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if cfg.SQLite == nil || cfg.SQLite.DSN == "" {
			return nil, fmt.Errorf("sqlite driver requires a dsn")
		}
		db, err := OpenSQLite(cfg.SQLite.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQLite(db)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

func summarize(res session.Result) Summary {
	ids := make([]string, 0, len(res.Providers))
	for id := range res.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Summary{
		ID:        res.Metadata.SessionID,
		StartedAt: res.Metadata.StartedAt,
		Language:  res.Metadata.Language,
		Providers: ids,
	}
}

// sortSummaries orders newest first.
func sortSummaries(list []Summary) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].StartedAt.After(list[j].StartedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func requireID(res session.Result) error {
	if res.Metadata.SessionID == "" {
		return errors.New("result has no session id")
	}
	return nil
}
