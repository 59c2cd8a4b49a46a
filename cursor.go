package mongomock

import (
	"context"
	"sync"
	"time"

	"github.com/dot-do/mongomock/errors"
	"github.com/dot-do/mongomock/internal/safe"
	"github.com/segmentio/ksuid"
)

// cursor holds the undrained remainder of a find or aggregate result set
type cursor struct {
	mu       sync.Mutex
	id       string
	db       string
	coll     string
	docs     Documents
	offset   int
	lastUsed time.Time
}

// cursorManager tracks open cursors and reaps the ones that sit idle past
// the configured timeout
type cursorManager struct {
	cursors     *safe.Map[*cursor]
	idleTimeout time.Duration
	logger      Logger
	done        chan struct{}
	wg          sync.WaitGroup
}

func newCursorManager(idleTimeout time.Duration, logger Logger) *cursorManager {
	m := &cursorManager{
		cursors:     safe.NewMap[*cursor](),
		idleTimeout: idleTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
	m.wg.Add(1)
	go m.reap()
	return m
}

// open registers the remaining documents of a result set and returns the cursor id
func (m *cursorManager) open(db, coll string, remaining Documents) string {
	c := &cursor{
		id:       ksuid.New().String(),
		db:       db,
		coll:     coll,
		docs:     remaining,
		offset:   0,
		lastUsed: time.Now(),
	}
	m.cursors.Set(c.id, c)
	return c.id
}

// getMore returns the next batch for the cursor. The returned id is empty once
// the cursor is exhausted, at which point it is deregistered.
func (m *cursorManager) getMore(id string, batchSize int) (Documents, string, error) {
	c, ok := m.cursors.Get(id)
	if !ok {
		return nil, "", errors.New(errors.CursorNotFound, "cursor %s not found", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = time.Now()
	end := c.offset + batchSize
	if end > len(c.docs) {
		end = len(c.docs)
	}
	batch := c.docs[c.offset:end]
	c.offset = end
	if c.offset >= len(c.docs) {
		m.cursors.Del(id)
		return batch, "", nil
	}
	return batch, id, nil
}

// close deregisters the cursor. Closing an unknown or exhausted cursor is an error.
func (m *cursorManager) close(id string) error {
	if !m.cursors.Exists(id) {
		return errors.New(errors.CursorNotFound, "cursor %s not found", id)
	}
	m.cursors.Del(id)
	return nil
}

func (m *cursorManager) reap() {
	defer m.wg.Done()
	interval := m.idleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.idleTimeout)
			var stale []string
			m.cursors.Range(func(id string, c *cursor) bool {
				c.mu.Lock()
				if c.lastUsed.Before(cutoff) {
					stale = append(stale, id)
				}
				c.mu.Unlock()
				return true
			})
			for _, id := range stale {
				m.cursors.Del(id)
				m.logger.Debug(context.Background(), "reaped idle cursor", map[string]any{
					"cursor": id,
				})
			}
		}
	}
}

func (m *cursorManager) stop() {
	close(m.done)
	m.wg.Wait()
}
