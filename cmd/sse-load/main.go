// Command sse-load opens many concurrent connections to the board change
// stream and reports how many events arrived.
package main

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

type loadConfig struct {
	url      string
	conns    int
	duration time.Duration
	maxFail  float64
}

type counters struct {
	events   atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return i
}

// countEvents reads server-sent events from r until it ends or ctx is done.
func countEvents(ctx context.Context, r io.Reader, events *atomic.Uint64) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data:") {
			events.Add(1)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func connect(ctx context.Context, client *http.Client, url string, c *counters) {
	backoff := time.Second
	retry := func() {
		c.failures.Add(1)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff = min(backoff*2, 5*time.Second)
	}
	for ctx.Err() == nil {
		c.attempts.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			retry()
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				retry()
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			retry()
			continue
		}
		backoff = time.Second
		countEvents(ctx, resp.Body, &c.events)
		resp.Body.Close()
		if ctx.Err() == nil {
			retry()
		}
	}
}

func run(ctx context.Context, cfg loadConfig) *counters {
	ctx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	c := &counters{}
	client := &http.Client{}
	var wg sync.WaitGroup
	wg.Add(cfg.conns)
	for range cfg.conns {
		go func() {
			defer wg.Done()
			connect(ctx, client, cfg.url, c)
		}()
	}
	wg.Wait()
	return c
}

func main() {
	cfg := loadConfig{
		url:      getenv("STREAM_URL", "http://localhost:8080/api/stream"),
		conns:    getenvInt("SSE_CONNECTIONS", 200),
		duration: time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second,
		maxFail:  0.01,
	}

	c := run(context.Background(), cfg)
	events, attempts, failures := c.events.Load(), c.attempts.Load(), c.failures.Load()
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	entry := log.WithFields(log.Fields{
		"connections":         cfg.conns,
		"duration_sec":        int(cfg.duration.Seconds()),
		"events_received":     events,
		"connection_failures": failures,
		"failure_rate":        failureRate,
	})
	if events == 0 || failureRate > cfg.maxFail {
		entry.Fatal("sse load failed")
	}
	entry.Info("sse load complete")
}
