// Package consumer implements a durable tailing cursor over one index: a
// catch-up-then-follow reader whose position survives process restarts.
package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/nesdb/nesdb/index"
)

// Source is the storage-side collaborator a Consumer needs: something that
// can turn an entry back into bytes, and something that signals when new
// entries might be available.
type Source interface {
	Resolve(e index.Entry) (doc []byte, ok bool)
	NotifyChan() (<-chan struct{}, bool)
}

// StateStore durably persists a consumer's last processed slot, keyed by
// (indexName, consumerName). Commit is idempotent and monotonic: a commit
// of a position lower than what's stored is a no-op.
type StateStore interface {
	Load(indexName, consumerName string) (position int64, ok bool, err error)
	Commit(indexName, consumerName string, position int64) error
}

// Consumer is a catch-up-then-follow reader over one index.
type Consumer struct {
	indexName string
	name      string
	idx       *index.Index
	source    Source
	store     StateStore

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	dataCh   chan []byte
	caughtUp chan struct{}
	position int64
	wg       sync.WaitGroup
}

// New builds a Consumer over idx. indexName identifies idx for the state
// store's key; name identifies this particular consumer within it.
func New(indexName, name string, idx *index.Index, source Source, store StateStore) *Consumer {
	return &Consumer{
		indexName: indexName,
		name:      name,
		idx:       idx,
		source:    source,
		store:     store,
	}
}

// Start loads the persisted position and begins the catch-up-then-follow
// loop. A second call while already started is a documented no-op.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}

	pos, ok, err := c.store.Load(c.indexName, c.name)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("consumer: load state: %w", err)
	}
	if ok {
		c.position = pos
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.dataCh = make(chan []byte)
	c.caughtUp = make(chan struct{})
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// Stop suspends the follow loop without losing position. A subsequent
// Start resumes from where it left off.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	return nil
}

// Subscribe returns the data channel, starting the consumer on first call
// if it isn't already running.
func (c *Consumer) Subscribe() (<-chan []byte, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if !started {
		if err := c.Start(context.Background()); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataCh, nil
}

// CaughtUp returns a channel that closes once the initial historical drain
// completes and the consumer has entered live-follow mode.
func (c *Consumer) CaughtUp() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caughtUp
}

// Position returns the last processed slot (0 if nothing has been
// processed yet).
func (c *Consumer) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.dataCh)

	caughtUp := false
	for {
		// Fetch the signal before draining so that a write landing during
		// the drain still wakes the wait below.
		notifyCh, ok := c.source.NotifyChan()
		if !c.drain(ctx) {
			return
		}
		if !caughtUp {
			close(c.caughtUp)
			caughtUp = true
		}
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-notifyCh:
		}
	}
}

// drain emits every entry from position+1 through the index's current
// length, advancing and persisting position as it goes. Returns false if
// ctx was cancelled mid-drain.
func (c *Consumer) drain(ctx context.Context) bool {
	for {
		length := c.idx.Length()
		if c.position >= length {
			return true
		}
		slot := c.position + 1
		entry, ok := c.idx.Get(slot)
		if !ok {
			return true
		}
		doc, ok := c.source.Resolve(entry)
		if ok {
			select {
			case c.dataCh <- doc:
			case <-ctx.Done():
				return false
			}
		}
		c.position = slot
		_ = c.store.Commit(c.indexName, c.name, c.position)
	}
}
