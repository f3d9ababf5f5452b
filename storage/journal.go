package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-tasks/domain"
)

type queueSender interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// JournalConfig tunes the journal's job buffer and timeouts.
type JournalConfig struct {
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// Journal publishes one event per applied mutation to a storage queue. A
// single worker sends in order; when the buffer is saturated the caller
// sends inline.
type Journal struct {
	q     queueSender
	board string
	cfg   JournalConfig
	ids   domain.IDGenerator
	clock domain.Clock
	log   *log.Logger

	jobs chan domain.Event
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueueJournal connects to queueName with the connection string.
func NewQueueJournal(connStr, queueName, boardID string, cfg JournalConfig, logger *log.Logger) (*Journal, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return NewJournal(q, boardID, cfg, logger), nil
}

// NewJournal starts the journal worker.
func NewJournal(q queueSender, boardID string, cfg JournalConfig, logger *log.Logger) *Journal {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	j := &Journal{
		q:     q,
		board: boardID,
		cfg:   cfg,
		ids:   domain.UUIDGenerator{},
		clock: domain.SystemClock{},
		log:   logger,
		jobs:  make(chan domain.Event, cfg.Buffer),
	}
	j.wg.Add(1)
	go j.worker()
	j.log.Infof("journal started, buffer: %d, timeout: %v, handoff: %v", cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return j
}

func (j *Journal) worker() {
	defer j.wg.Done()
	for ev := range j.jobs {
		j.send(ev)
	}
}

func (j *Journal) send(ev domain.Event) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		j.log.WithError(err).Error("journal encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Timeout)
	defer cancel()
	if _, err := j.q.EnqueueMessage(ctx, string(data), nil); err != nil {
		j.log.WithError(err).WithFields(log.Fields{
			"type":     ev.Type,
			"revision": ev.Revision,
		}).Error("journal enqueue failed")
	}
}

// Record publishes an event for an applied mutation.
func (j *Journal) Record(action, taskID string, revision uint64) {
	ev := domain.Event{
		ID:       j.ids.NewID(),
		BoardID:  j.board,
		Type:     action,
		TaskID:   taskID,
		Revision: revision,
		Time:     j.clock.Now().UnixMilli(),
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	if ok, closed := trySendNonBlocking(j.jobs, ev); ok || closed {
		return
	}
	if j.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(j.cfg.HandoffTimeout)
		ok, closed := sendWithTimer(j.jobs, ev, timer.C)
		timer.Stop()
		if ok || closed {
			return
		}
	}
	j.log.WithField("revision", revision).Warn("journal saturated, sending inline")
	j.send(ev)
}

// Close drains queued events and stops the worker.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.jobs)
	j.mu.Unlock()
	j.wg.Wait()
}

func trySendNonBlocking(ch chan domain.Event, ev domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Event, ev domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
