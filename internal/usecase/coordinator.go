package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"phai/internal/domain"
)

var errNoBackend = errors.New("usecase: model backend is not configured")

const (
	defaultSettleMargin    = 100 * time.Millisecond
	defaultResponseTimeout = 60 * time.Second
)

// State is the coordinator's position in a turn cycle.
type State int

const (
	// StateEmpty: idle, nothing in the active conversation yet.
	StateEmpty State = iota
	// StateReady: idle with at least one settled exchange.
	StateReady
	StateAwaitingResponse
	StateAnimating
	// StateUnavailable: no model session could be established.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateAnimating:
		return "animating"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Idle reports whether no turn cycle is in progress.
func (s State) Idle() bool {
	return s == StateEmpty || s == StateReady || s == StateUnavailable
}

// ModelSession is a conversation context the backend remembers. Send never
// fails: backend errors come back as a Reply explaining the failure.
type ModelSession interface {
	Send(ctx context.Context, prompt string) domain.Reply
}

// SessionFactory opens a fresh backend context seeded with history. It
// returns an error when the backend is not configured.
type SessionFactory func(ctx context.Context, history []domain.HistoryEntry) (ModelSession, error)

// SessionStore is the persisted conversation registry. It must be safe
// for concurrent use: commits write to it without the coordinator lock.
type SessionStore interface {
	List() []domain.Conversation
	Get(id string) (domain.Conversation, bool)
	Create(ctx context.Context, conv domain.Conversation) error
	Update(ctx context.Context, id string, turns []domain.Turn) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Coordinator runs the user → backend → animation → persistence cycle for
// the active conversation and switches between conversations. All state is
// guarded by one mutex; observers are notified after it is released.
type Coordinator struct {
	registry   SessionStore
	newSession SessionFactory
	logger     *slog.Logger
	now        func() time.Time

	freshDelay      time.Duration
	replayDelay     time.Duration
	settleMargin    time.Duration
	responseTimeout time.Duration

	mu        sync.Mutex
	store     MessageStore
	state     State
	activeID  string
	replay    bool
	session   ModelSession
	epoch     uint64
	anim      *AnimationJob
	pending   *pendingPersistence
	idle      chan struct{}
	observers []func()
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTypingDelay sets the per-character delay for fresh conversations and
// for conversations restored with LoadChat.
func WithTypingDelay(fresh, replay time.Duration) Option {
	return func(c *Coordinator) {
		c.freshDelay = fresh
		c.replayDelay = replay
	}
}

// WithSettleMargin sets the slack between the end of an animation and the
// commit of the finished turn.
func WithSettleMargin(d time.Duration) Option {
	return func(c *Coordinator) { c.settleMargin = d }
}

// WithResponseTimeout bounds each backend call. Zero disables the bound.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.responseTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator wires the coordinator. newSession may be nil when no
// backend is configured; the coordinator then stays unavailable. Call
// NewChat or LoadChat to establish the first conversation.
func NewCoordinator(registry SessionStore, newSession SessionFactory, opts ...Option) (*Coordinator, error) {
	if registry == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	idle := make(chan struct{})
	close(idle)
	c := &Coordinator{
		registry:        registry,
		newSession:      newSession,
		logger:          slog.Default(),
		now:             time.Now,
		freshDelay:      DefaultTypingDelay,
		replayDelay:     ReplayTypingDelay,
		settleMargin:    defaultSettleMargin,
		responseTimeout: defaultResponseTimeout,
		idle:            idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Subscribe registers fn to be called after every observable change. fn may
// be called from timer goroutines.
func (c *Coordinator) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SendTurn runs one turn cycle. It blocks while the backend is answering
// and returns once the reply has started animating. It reports false, with
// no effect, for blank text, while a cycle is in progress, or when there is
// no model session.
func (c *Coordinator) SendTurn(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	if !c.canSendLocked() {
		c.mu.Unlock()
		return false
	}
	c.cancelInFlightLocked()
	c.store.Append(domain.Turn{
		ID:        newUUID(),
		Text:      text,
		Sender:    domain.SenderUser,
		CreatedAt: c.now(),
	})
	c.setStateLocked(StateAwaitingResponse)
	session, epoch := c.session, c.epoch
	c.mu.Unlock()
	c.notify()

	sendCtx := ctx
	if c.responseTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, c.responseTimeout)
		defer cancel()
	}
	reply := session.Send(sendCtx, text)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding reply for abandoned conversation")
		return true
	}
	c.startAnimationLocked(reply)
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Coordinator) startAnimationLocked(reply domain.Reply) {
	turn := domain.Turn{
		ID:        newUUID(),
		Sender:    domain.SenderAI,
		CreatedAt: c.now(),
		Citations: reply.Citations,
	}
	c.store.Append(turn)
	c.setStateLocked(StateAnimating)

	delay := c.freshDelay
	if c.replay {
		delay = c.replayDelay
	}
	p := armPersistence(c.epoch, turn.ID, reply.Text, c.now())
	c.pending = p

	job := newJob(reply.Text)
	c.anim = job
	NewAnimator(delay).play(job,
		func(prefix string) { c.onStep(job, turn.ID, prefix) },
		func() { c.onDone(job, p) },
	)
}

func (c *Coordinator) onStep(job *AnimationJob, turnID, prefix string) {
	c.mu.Lock()
	if c.anim != job || job.Cancelled() {
		c.mu.Unlock()
		return
	}
	t, ok := c.store.Get(turnID)
	if ok {
		t.Text = prefix
		c.store.Replace(turnID, t)
	}
	c.mu.Unlock()
	if ok {
		c.notify()
	}
}

func (c *Coordinator) onDone(job *AnimationJob, p *pendingPersistence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.anim != job || job.Cancelled() {
		return
	}
	c.anim = nil
	if c.pending != p {
		return
	}
	p.settle(c.settleMargin, func() { c.commit(p) })
}

// commit writes the finished turn to the registry: a conversation without
// an id is created, an existing one has its turn list replaced. The write
// runs without the lock; the cycle stays Animating until it lands, so a
// second commit cannot overlap it.
func (c *Coordinator) commit(p *pendingPersistence) {
	c.mu.Lock()
	if c.pending != p || p.cancelled || c.epoch != p.epoch {
		c.mu.Unlock()
		return
	}
	if t, ok := c.store.Get(p.turnID); ok && t.Text != p.fullText {
		t.Text = p.fullText
		c.store.Replace(p.turnID, t)
	}
	turns := c.store.Snapshot()
	activeID := c.activeID
	now := c.now()
	c.mu.Unlock()

	createdID := c.write(activeID, turns, now)

	c.mu.Lock()
	if c.pending != p || c.epoch != p.epoch {
		// Switched away while writing; the new conversation owns the state.
		c.mu.Unlock()
		return
	}
	c.pending = nil
	if createdID != "" {
		c.activeID = createdID
	}
	c.setStateLocked(StateReady)
	c.mu.Unlock()
	c.notify()
}

// write persists turns and returns the id of a newly created conversation.
// Failures are logged; the in-memory registry keeps the change.
func (c *Coordinator) write(activeID string, turns []domain.Turn, now time.Time) string {
	ctx := context.Background()
	if activeID != "" {
		if err := c.registry.Update(ctx, activeID, turns); err != nil {
			c.logger.Error("failed to persist conversation", "conversation_id", activeID, "err", err)
		}
		return ""
	}
	first := ""
	if len(turns) > 0 {
		first = turns[0].Text
	}
	conv := domain.Conversation{
		ID:          newUUID(),
		DisplayName: DisplayName(first, now),
		Turns:       turns,
		CreatedAt:   now,
	}
	if err := c.registry.Create(ctx, conv); err != nil {
		c.logger.Error("failed to persist new conversation", "conversation_id", conv.ID, "err", err)
	}
	if _, ok := c.registry.Get(conv.ID); !ok {
		return ""
	}
	return conv.ID
}

// cancelInFlightLocked stops the animation job and the pending commit.
func (c *Coordinator) cancelInFlightLocked() {
	if c.anim != nil {
		c.anim.Cancel()
		c.anim = nil
	}
	if c.pending != nil {
		c.pending.cancel()
		c.pending = nil
	}
}

func (c *Coordinator) setStateLocked(s State) {
	wasIdle := c.state.Idle()
	c.state = s
	switch {
	case wasIdle && !s.Idle():
		c.idle = make(chan struct{})
	case !wasIdle && s.Idle():
		close(c.idle)
	}
}

func (c *Coordinator) canSendLocked() bool {
	return c.session != nil && (c.state == StateEmpty || c.state == StateReady)
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	observers := append([]func(){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// State returns the current cycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanSend reports whether SendTurn would accept a turn right now.
func (c *Coordinator) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSendLocked()
}

// Snapshot returns the active turn list, including live text of a turn that
// is still animating.
func (c *Coordinator) Snapshot() []domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

// Conversations lists persisted conversations, newest first.
func (c *Coordinator) Conversations() []domain.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.List()
}

// ActiveID is the registry id of the active conversation, empty until its
// first exchange has been committed.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// InitialScreen reports whether there is nothing to show but the optional
// setup failure turn.
func (c *Coordinator) InitialScreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.store.Len() {
	case 0:
		return true
	case 1:
		_, ok := c.store.Get(SetupTurnID)
		return ok
	default:
		return false
	}
}

// WaitIdle blocks until no turn cycle is in progress.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
