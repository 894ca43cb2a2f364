package usecase

import (
	"context"

	"phai/internal/domain"
)

// NewChat abandons any in-flight cycle, clears the active conversation and
// opens a fresh model session with no history.
func (c *Coordinator) NewChat(ctx context.Context) {
	c.mu.Lock()
	epoch := c.resetLocked(nil, "", false)
	c.mu.Unlock()

	c.establish(ctx, epoch, nil)
}

// LoadChat makes the conversation with the given id active and opens a
// model session seeded with its turns. An unknown id is a no-op; it reports
// whether the conversation was loaded.
func (c *Coordinator) LoadChat(ctx context.Context, id string) bool {
	c.mu.Lock()
	conv, ok := c.registry.Get(id)
	if !ok {
		c.mu.Unlock()
		return false
	}
	epoch := c.resetLocked(conv.Turns, conv.ID, true)
	c.mu.Unlock()

	c.establish(ctx, epoch, domain.ToHistory(conv.Turns))
	return true
}

// DeleteChat removes a persisted conversation. Deleting the active one
// starts a new chat. An unknown id is a no-op.
func (c *Coordinator) DeleteChat(ctx context.Context, id string) bool {
	c.mu.Lock()
	if _, ok := c.registry.Get(id); !ok {
		c.mu.Unlock()
		return false
	}
	active := c.activeID == id
	if active {
		// Stop the cycle before the record goes away so a pending commit
		// cannot resurrect it.
		c.cancelInFlightLocked()
	}
	c.mu.Unlock()

	if _, err := c.registry.Delete(ctx, id); err != nil {
		c.logger.Error("failed to persist conversation removal", "conversation_id", id, "err", err)
	}

	if active {
		c.NewChat(ctx)
	} else {
		c.notify()
	}
	return true
}

// Close abandons any in-flight cycle. Pending commits are dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.cancelInFlightLocked()
	c.epoch++
	c.session = nil
	if !c.state.Idle() {
		c.setStateLocked(StateReady)
	}
	c.mu.Unlock()
	c.notify()
}

// resetLocked cancels in-flight work and installs a new active
// conversation. It returns the new epoch.
func (c *Coordinator) resetLocked(turns []domain.Turn, id string, replay bool) uint64 {
	c.cancelInFlightLocked()
	c.epoch++
	c.store.Reset(turns)
	c.activeID = id
	c.replay = replay
	c.session = nil
	if len(turns) > 0 {
		c.setStateLocked(StateReady)
	} else {
		c.setStateLocked(StateEmpty)
	}
	return c.epoch
}

// establish opens the model session for the conversation installed at
// epoch. A newer switch wins over a slower one.
func (c *Coordinator) establish(ctx context.Context, epoch uint64, history []domain.HistoryEntry) {
	var (
		session ModelSession
		err     error
	)
	if c.newSession == nil {
		err = errNoBackend
	} else {
		session, err = c.newSession(ctx, history)
		if err == nil && session == nil {
			err = errNoBackend
		}
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Error("model session unavailable", "err", err)
		c.store.Append(domain.Turn{
			ID:        SetupTurnID,
			Text:      SetupFailText,
			Sender:    domain.SenderAI,
			CreatedAt: c.now(),
		})
		c.setStateLocked(StateUnavailable)
	} else {
		c.session = session
	}
	c.mu.Unlock()
	c.notify()
}
