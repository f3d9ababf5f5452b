package config

import (
	"strings"
	"testing"
	"time"
)

func env(vals map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := load(env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ListenAddr != ":8080" || c.Persistence != BackendFile || c.BoardID != "default" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.HistoryLimit != 0 || c.SearchDebounce != 300*time.Millisecond || c.JournalBuffer != 1024 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Debug || c.Pprof {
		t.Fatalf("debug and pprof should default off")
	}
}

func TestLoadOverrides(t *testing.T) {
	c, err := load(env(map[string]string{
		"PORT":                      "9000",
		"DEBUG":                     "true",
		"PERSISTENCE":               "Table",
		"STORAGE_CONNECTION_STRING": "UseDevelopmentStorage=true",
		"TASKS_TABLE":               "tasks",
		"JOURNAL_QUEUE":             "journal",
		"HISTORY_LIMIT":             "50",
		"SEARCH_DEBOUNCE":           "1s",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ListenAddr != ":9000" || !c.Debug || c.Persistence != BackendTable || c.TasksTable != "tasks" {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.HistoryLimit != 50 || c.SearchDebounce != time.Second || c.JournalQueue != "journal" {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoadListenAddrWins(t *testing.T) {
	c, err := load(env(map[string]string{"LISTEN_ADDR": "127.0.0.1:7000", "PORT": "9000"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("unexpected listen addr %q", c.ListenAddr)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "bad int", env: map[string]string{"HISTORY_LIMIT": "many"}, want: "HISTORY_LIMIT"},
		{name: "negative limit", env: map[string]string{"HISTORY_LIMIT": "-1"}, want: "HISTORY_LIMIT"},
		{name: "bad duration", env: map[string]string{"SAVE_TIMEOUT": "soon"}, want: "SAVE_TIMEOUT"},
		{name: "bad bool", env: map[string]string{"DEBUG": "maybe"}, want: "DEBUG"},
		{name: "unknown backend", env: map[string]string{"PERSISTENCE": "s3"}, want: "PERSISTENCE"},
		{name: "redis without conn", env: map[string]string{"PERSISTENCE": "redis"}, want: "REDIS_CONNECTION_STRING"},
		{name: "table without conn", env: map[string]string{"PERSISTENCE": "table"}, want: "STORAGE_CONNECTION_STRING"},
		{name: "postgres without url", env: map[string]string{"PERSISTENCE": "postgres"}, want: "DATABASE_URL"},
		{name: "journal without conn", env: map[string]string{"JOURNAL_QUEUE": "q"}, want: "STORAGE_CONNECTION_STRING"},
		{name: "cache without redis", env: map[string]string{"CACHE_TTL": "1m"}, want: "REDIS_CONNECTION_STRING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(env(tt.env))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error naming %s, got %v", tt.want, err)
			}
		})
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts, err = RedisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("azure: %v", err)
	}
	if opts.Addr != "cache.example.net:6380" || opts.Password != "pw" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatalf("expected error for empty string")
	}
}
