package storage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-tasks/domain"
)

// Writer saves snapshots in the background. Notifications coalesce into a
// capacity-one signal and every save reads the latest snapshot, so a slow
// backend never persists an older state after a newer one.
type Writer struct {
	p        Persister
	snapshot func() Snapshot
	timeout  time.Duration
	log      *log.Logger

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex // serialises saves between the loop and Close
	failures int
}

// NewWriter starts a writer that persists snapshot() to p. A timeout of zero
// runs saves without a deadline.
func NewWriter(p Persister, snapshot func() Snapshot, timeout time.Duration, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	w := &Writer{
		p:        p,
		snapshot: snapshot,
		timeout:  timeout,
		log:      logger,
		signal:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Notify schedules a save. It never blocks.
func (w *Writer) Notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-w.signal:
			_ = w.save(context.Background())
		}
	}
}

func (w *Writer) save(parent context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx := parent
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, w.timeout)
		defer cancel()
	}
	s := w.snapshot()
	if err := w.p.Save(ctx, s); err != nil {
		w.failures++
		perr := &domain.PersistenceError{Op: "save", Err: err}
		w.log.WithError(perr).WithField("tasks", len(s.Tasks)).Error("snapshot save failed")
		return perr
	}
	w.log.WithField("tasks", len(s.Tasks)).Debug("snapshot saved")
	return nil
}

// Failures reports how many saves have failed so far.
func (w *Writer) Failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// Close stops the background loop and performs a final save of the latest
// snapshot. It is safe to call more than once; only the first call saves.
func (w *Writer) Close(ctx context.Context) error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		select {
		case <-w.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = w.save(ctx)
	})
	return err
}
