// Package config reads the service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persistence backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendTable    = "table"
	BackendPostgres = "postgres"
)

type Config struct {
	ListenAddr string
	Debug      bool
	Pprof      bool
	BoardID    string

	Persistence  string
	StateFile    string
	RedisConn    string
	CacheTTL     time.Duration
	StorageConn  string
	TasksTable   string
	DatabaseURL  string
	JournalQueue string

	HistoryLimit   int
	SaveTimeout    time.Duration
	SearchDebounce time.Duration
	DeduperTTL     time.Duration

	JournalBuffer         int
	JournalTimeout        time.Duration
	JournalHandoffTimeout time.Duration
}

type lookupFunc func(string) (string, bool)

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup lookupFunc) (Config, error) {
	r := reader{lookup: lookup}
	c := Config{
		ListenAddr: r.str("LISTEN_ADDR", ""),
		Debug:      r.boolean("DEBUG", false),
		Pprof:      r.boolean("PPROF", false),
		BoardID:    r.str("BOARD_ID", "default"),

		Persistence:  strings.ToLower(r.str("PERSISTENCE", BackendFile)),
		StateFile:    r.str("STATE_FILE", "data/tasks.json"),
		RedisConn:    r.str("REDIS_CONNECTION_STRING", ""),
		CacheTTL:     r.dur("CACHE_TTL", 0),
		StorageConn:  r.str("STORAGE_CONNECTION_STRING", ""),
		TasksTable:   r.str("TASKS_TABLE", "boards"),
		DatabaseURL:  r.str("DATABASE_URL", ""),
		JournalQueue: r.str("JOURNAL_QUEUE", ""),

		HistoryLimit:   r.integer("HISTORY_LIMIT", 0),
		SaveTimeout:    r.dur("SAVE_TIMEOUT", 10*time.Second),
		SearchDebounce: r.dur("SEARCH_DEBOUNCE", 300*time.Millisecond),
		DeduperTTL:     r.dur("DEDUPER_TTL", 24*time.Hour),

		JournalBuffer:         r.integer("JOURNAL_BUFFER", 1024),
		JournalTimeout:        r.dur("JOURNAL_TIMEOUT", 30*time.Second),
		JournalHandoffTimeout: r.dur("JOURNAL_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + r.str("PORT", "8080")
	}

	if c.HistoryLimit < 0 {
		r.fail("HISTORY_LIMIT", "must not be negative")
	}
	if c.JournalBuffer <= 0 {
		r.fail("JOURNAL_BUFFER", "must be greater than zero")
	}
	if c.DeduperTTL <= 0 {
		r.fail("DEDUPER_TTL", "must be greater than zero")
	}
	if c.BoardID == "" {
		r.fail("BOARD_ID", "must not be empty")
	}
	switch c.Persistence {
	case BackendFile:
		if c.StateFile == "" {
			r.fail("STATE_FILE", "required for file persistence")
		}
	case BackendRedis:
		if c.RedisConn == "" {
			r.fail("REDIS_CONNECTION_STRING", "required for redis persistence")
		}
	case BackendTable:
		if c.StorageConn == "" {
			r.fail("STORAGE_CONNECTION_STRING", "required for table persistence")
		}
		if c.TasksTable == "" {
			r.fail("TASKS_TABLE", "required for table persistence")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			r.fail("DATABASE_URL", "required for postgres persistence")
		}
	default:
		r.fail("PERSISTENCE", fmt.Sprintf("unknown backend %q", c.Persistence))
	}
	if c.JournalQueue != "" && c.StorageConn == "" {
		r.fail("STORAGE_CONNECTION_STRING", "required when JOURNAL_QUEUE is set")
	}
	if c.CacheTTL > 0 && c.RedisConn == "" {
		r.fail("REDIS_CONNECTION_STRING", "required when CACHE_TTL is set")
	}
	return c, errors.Join(r.errs...)
}

type reader struct {
	lookup lookupFunc
	errs   []error
}

func (r *reader) fail(key, reason string) {
	r.errs = append(r.errs, fmt.Errorf("invalid %s: %s", key, reason))
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) dur(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	if d < 0 {
		r.fail(key, "must not be negative")
		return def
	}
	return d
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

// RedisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
