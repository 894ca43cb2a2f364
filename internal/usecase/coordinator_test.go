package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phai/internal/domain"
	"phai/internal/integrations/gemini"
	"phai/internal/repository"
	"phai/internal/sessions"
)

type fakeSession struct {
	mu      sync.Mutex
	replies []domain.Reply
	prompts []string
	release chan struct{}
}

func (f *fakeSession) Send(ctx context.Context, prompt string) domain.Reply {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	release := f.release
	idx := len(f.prompts) - 1
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.Reply{Text: "timed out: " + ctx.Err().Error()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return domain.Reply{Text: "ok"}
	}
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	return f.replies[idx]
}

func (f *fakeSession) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeBackend struct {
	mu        sync.Mutex
	session   *fakeSession
	histories [][]domain.HistoryEntry
	err       error
}

func (b *fakeBackend) factory(_ context.Context, history []domain.HistoryEntry) (ModelSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.histories = append(b.histories, history)
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

type harness struct {
	c        *Coordinator
	backend  *fakeBackend
	registry *sessions.Registry
	kv       *repository.MemoryStore
}

func newHarness(t *testing.T, session *fakeSession, opts ...Option) *harness {
	t.Helper()
	kv := repository.NewMemoryStore()
	reg, err := sessions.New(kv, "", nil)
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background()))

	backend := &fakeBackend{session: session}
	opts = append([]Option{
		WithTypingDelay(time.Millisecond, time.Millisecond),
		WithSettleMargin(time.Millisecond),
	}, opts...)
	c, err := NewCoordinator(reg, backend.factory, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	c.NewChat(context.Background())
	return &harness{c: c, backend: backend, registry: reg, kv: kv}
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitIdle(ctx))
}

func texts(turns []domain.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = string(t.Sender) + ":" + t.Text
	}
	return out
}

func TestNewCoordinator_ValidatesRegistry(t *testing.T) {
	_, err := NewCoordinator(nil, nil)
	require.Error(t, err)
}

func TestSendTurn_HelloScenario(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: "Hi there"}}})

	var mu sync.Mutex
	var aiTexts []string
	h.c.Subscribe(func() {
		snap := h.c.Snapshot()
		if len(snap) == 2 {
			mu.Lock()
			aiTexts = append(aiTexts, snap[1].Text)
			mu.Unlock()
		}
	})

	require.Equal(t, StateEmpty, h.c.State())
	require.True(t, h.c.CanSend())
	require.True(t, h.c.SendTurn(context.Background(), "  Hello  "))
	waitIdle(t, h.c)

	require.Equal(t, []string{"USER:Hello", "AI:Hi there"}, texts(h.c.Snapshot()))
	require.Equal(t, StateReady, h.c.State())
	require.Equal(t, []string{"Hello"}, h.backend.session.sent())

	convs := h.c.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, "Hello", convs[0].DisplayName)
	require.Equal(t, convs[0].ID, h.c.ActiveID())
	require.Equal(t, []string{"USER:Hello", "AI:Hi there"}, texts(convs[0].Turns))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, aiTexts)
	for _, text := range aiTexts {
		require.True(t, strings.HasPrefix("Hi there", text), "observed %q", text)
	}
	require.Contains(t, aiTexts, "Hi there")
}

func TestSendTurn_RejectsWhileBusy(t *testing.T) {
	session := &fakeSession{release: make(chan struct{}), replies: []domain.Reply{{Text: "first"}}}
	h := newHarness(t, session)

	accepted := make(chan bool, 1)
	go func() { accepted <- h.c.SendTurn(context.Background(), "one") }()

	require.Eventually(t, func() bool { return h.c.State() == StateAwaitingResponse }, time.Second, time.Millisecond)
	require.False(t, h.c.CanSend())
	require.False(t, h.c.SendTurn(context.Background(), "two"))
	require.False(t, h.c.SendTurn(context.Background(), "three"))
	require.Len(t, h.c.Snapshot(), 1)

	close(session.release)
	require.True(t, <-accepted)
	waitIdle(t, h.c)

	require.Equal(t, []string{"one"}, session.sent())
	require.True(t, h.c.SendTurn(context.Background(), "four"))
	waitIdle(t, h.c)
	require.Len(t, h.c.Snapshot(), 4)
}

func TestSendTurn_RejectsInvalidCalls(t *testing.T) {
	h := newHarness(t, &fakeSession{})
	require.False(t, h.c.SendTurn(context.Background(), ""))
	require.False(t, h.c.SendTurn(context.Background(), " \n\t "))
	require.Empty(t, h.c.Snapshot())
	require.Equal(t, StateEmpty, h.c.State())

	reg, err := sessions.New(repository.NewMemoryStore(), "", nil)
	require.NoError(t, err)
	c, err := NewCoordinator(reg, nil)
	require.NoError(t, err)
	require.False(t, c.SendTurn(context.Background(), "hello"), "no session yet")
	require.Empty(t, c.Snapshot())
}

func TestSendTurn_SecondTurnUpdatesSameConversation(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: "a1"}, {Text: "a2"}}})

	require.True(t, h.c.SendTurn(context.Background(), "q1"))
	waitIdle(t, h.c)
	id := h.c.ActiveID()
	require.NotEmpty(t, id)

	require.True(t, h.c.SendTurn(context.Background(), "q2"))
	waitIdle(t, h.c)

	convs := h.c.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, id, convs[0].ID)
	require.Equal(t, "q1", convs[0].DisplayName)
	require.Equal(t, []string{"USER:q1", "AI:a1", "USER:q2", "AI:a2"}, texts(convs[0].Turns))
}

func TestSendTurn_CitationsAttachedAndPersisted(t *testing.T) {
	cites := []domain.Citation{{Kind: domain.CitationWeb, SourceURI: "https://go.dev", Title: "Go"}}
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: "See Go", Citations: cites}}})

	require.True(t, h.c.SendTurn(context.Background(), "go?"))
	snap := h.c.Snapshot()
	require.Equal(t, cites, snap[1].Citations)

	waitIdle(t, h.c)
	convs := h.c.Conversations()
	require.Equal(t, cites, convs[0].Turns[1].Citations)
}

func TestSendTurn_EmptyReplyStillCommits(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: ""}}})

	require.True(t, h.c.SendTurn(context.Background(), "anyone?"))
	waitIdle(t, h.c)
	require.Equal(t, []string{"USER:anyone?", "AI:"}, texts(h.c.Snapshot()))
	require.Len(t, h.c.Conversations(), 1)
}

func TestSendTurn_CredentialFailureIsPersistedLikeAnyTurn(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: gemini.InvalidAPIKeyText}}})

	require.True(t, h.c.SendTurn(context.Background(), "Hello"))
	waitIdle(t, h.c)

	convs := h.c.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, gemini.InvalidAPIKeyText, convs[0].Turns[1].Text)
	require.Equal(t, domain.SenderAI, convs[0].Turns[1].Sender)
}

func TestSendTurn_ResponseTimeoutFlowsThroughPipeline(t *testing.T) {
	session := &fakeSession{release: make(chan struct{})}
	t.Cleanup(func() { close(session.release) })
	h := newHarness(t, session, WithResponseTimeout(10*time.Millisecond))

	require.True(t, h.c.SendTurn(context.Background(), "slow"))
	waitIdle(t, h.c)
	snap := h.c.Snapshot()
	require.Len(t, snap, 2)
	require.Contains(t, snap[1].Text, "timed out")
	require.Len(t, h.c.Conversations(), 1)
}

func TestNewChat_MidAnimationCancelsStepsAndCommit(t *testing.T) {
	long := strings.Repeat("typing ", 60)
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: long}}},
		WithTypingDelay(5*time.Millisecond, 5*time.Millisecond))

	require.True(t, h.c.SendTurn(context.Background(), "start"))
	require.Eventually(t, func() bool {
		snap := h.c.Snapshot()
		return len(snap) == 2 && len(snap[1].Text) > 3
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, StateAnimating, h.c.State())

	h.c.NewChat(context.Background())
	require.Empty(t, h.c.Snapshot())
	require.Equal(t, StateEmpty, h.c.State())
	waitIdle(t, h.c)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, h.c.Snapshot(), "old animation must not write into the new chat")
	require.Empty(t, h.c.Conversations(), "old turn must never be committed")
	require.Empty(t, h.c.ActiveID())
	require.Len(t, h.backend.histories, 2)
	require.Empty(t, h.backend.histories[1])
}

func TestNewChat_WhileAwaitingDiscardsLateReply(t *testing.T) {
	session := &fakeSession{release: make(chan struct{}), replies: []domain.Reply{{Text: "late"}}}
	h := newHarness(t, session)

	accepted := make(chan bool, 1)
	go func() { accepted <- h.c.SendTurn(context.Background(), "question") }()
	require.Eventually(t, func() bool { return h.c.State() == StateAwaitingResponse }, time.Second, time.Millisecond)

	h.c.NewChat(context.Background())
	close(session.release)
	require.True(t, <-accepted)

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, h.c.Snapshot())
	require.Empty(t, h.c.Conversations())
	require.Equal(t, StateEmpty, h.c.State())
}

func TestLoadChat_UnknownIDIsNoop(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: "a"}}})
	require.True(t, h.c.SendTurn(context.Background(), "q"))
	waitIdle(t, h.c)
	before := h.c.Snapshot()
	activeID := h.c.ActiveID()

	require.False(t, h.c.LoadChat(context.Background(), "does-not-exist"))
	require.Equal(t, before, h.c.Snapshot())
	require.Equal(t, activeID, h.c.ActiveID())
	require.Equal(t, StateReady, h.c.State())
	require.Len(t, h.backend.histories, 1)
}

func TestLoadChat_RestoresTurnsAndSeedsHistory(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: "a1"}, {Text: "a2"}, {Text: "a3"}}})
	ctx := context.Background()

	require.True(t, h.c.SendTurn(ctx, "first chat"))
	waitIdle(t, h.c)
	firstID := h.c.ActiveID()

	h.c.NewChat(ctx)
	require.True(t, h.c.SendTurn(ctx, "second chat"))
	waitIdle(t, h.c)
	require.Len(t, h.c.Conversations(), 2)
	require.Equal(t, "second chat", h.c.Conversations()[0].DisplayName)

	require.True(t, h.c.LoadChat(ctx, firstID))
	require.Equal(t, firstID, h.c.ActiveID())
	require.Equal(t, []string{"USER:first chat", "AI:a1"}, texts(h.c.Snapshot()))
	require.Equal(t, StateReady, h.c.State())
	require.False(t, h.c.InitialScreen())

	last := h.backend.histories[len(h.backend.histories)-1]
	require.Equal(t, []domain.HistoryEntry{
		{Role: domain.RoleUser, Text: "first chat"},
		{Role: domain.RoleModel, Text: "a1"},
	}, last)

	require.True(t, h.c.SendTurn(ctx, "follow up"))
	waitIdle(t, h.c)
	require.Len(t, h.c.Conversations(), 2)
	got, ok := h.registry.Get(firstID)
	require.True(t, ok)
	require.Equal(t, []string{"USER:first chat", "AI:a1", "USER:follow up", "AI:a3"}, texts(got.Turns))
}

func TestSetupFailure_DisablesSending(t *testing.T) {
	reg, err := sessions.New(repository.NewMemoryStore(), "", nil)
	require.NoError(t, err)
	backend := &fakeBackend{err: errors.New("no api key")}
	c, err := NewCoordinator(reg, backend.factory)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.NewChat(context.Background())
	require.Equal(t, StateUnavailable, c.State())
	require.False(t, c.CanSend())
	require.True(t, c.InitialScreen())
	snap := c.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, SetupTurnID, snap[0].ID)
	require.Equal(t, SetupFailText, snap[0].Text)
	require.Equal(t, domain.SenderAI, snap[0].Sender)

	require.False(t, c.SendTurn(context.Background(), "hello"))
	require.Len(t, c.Snapshot(), 1)
	require.Len(t, backend.histories, 1, "setup is not retried automatically")
}

func TestSetupFailure_NilFactory(t *testing.T) {
	reg, err := sessions.New(repository.NewMemoryStore(), "", nil)
	require.NoError(t, err)
	c, err := NewCoordinator(reg, nil)
	require.NoError(t, err)

	c.NewChat(context.Background())
	require.Equal(t, StateUnavailable, c.State())
	require.False(t, c.CanSend())
}

func TestDeleteChat(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: "a"}}})
	ctx := context.Background()

	require.True(t, h.c.SendTurn(ctx, "keep"))
	waitIdle(t, h.c)
	keepID := h.c.ActiveID()

	h.c.NewChat(ctx)
	require.True(t, h.c.SendTurn(ctx, "drop"))
	waitIdle(t, h.c)
	dropID := h.c.ActiveID()

	require.False(t, h.c.DeleteChat(ctx, "missing"))

	require.True(t, h.c.DeleteChat(ctx, keepID))
	require.Equal(t, dropID, h.c.ActiveID(), "deleting another chat keeps the active one")
	require.Len(t, h.c.Snapshot(), 2)

	require.True(t, h.c.DeleteChat(ctx, dropID))
	require.Empty(t, h.c.ActiveID())
	require.Empty(t, h.c.Snapshot())
	require.Empty(t, h.c.Conversations())
	require.True(t, h.c.CanSend())
}

func TestPendingPersistence_CancelAfterFireIsHarmless(t *testing.T) {
	fired := make(chan struct{})
	p := armPersistence(1, "t", "text", time.Now())
	p.settle(0, func() { close(fired) })
	<-fired

	require.NotPanics(t, func() {
		p.cancel()
		p.cancel()
	})

	unfired := armPersistence(1, "t", "text", time.Now())
	unfired.cancel()
	unfired.settle(0, func() { t.Error("cancelled persistence must not fire") })
	time.Sleep(10 * time.Millisecond)
}

func TestWaitIdle_HonoursContext(t *testing.T) {
	session := &fakeSession{release: make(chan struct{})}
	h := newHarness(t, session)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.c.SendTurn(context.Background(), "q")
	}()
	require.Eventually(t, func() bool { return h.c.State() == StateAwaitingResponse }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.c.WaitIdle(ctx), context.DeadlineExceeded)

	close(session.release)
	<-done
	waitIdle(t, h.c)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "awaiting_response", StateAwaitingResponse.String())
	require.Equal(t, "unknown", State(42).String())
	require.True(t, StateUnavailable.Idle())
	require.False(t, StateAnimating.Idle())
}

func TestSendTurn_EmptyRepliesWithoutDelaySettleEveryCycle(t *testing.T) {
	h := newHarness(t, &fakeSession{replies: []domain.Reply{{Text: ""}}},
		WithTypingDelay(0, 0), WithSettleMargin(0))

	for i := 0; i < 50; i++ {
		require.True(t, h.c.SendTurn(context.Background(), "ping"), "cycle %d", i)
		waitIdle(t, h.c)
		require.Equal(t, StateReady, h.c.State())
		require.Equal(t, 2*(i+1), len(h.c.Snapshot()))
	}
	convs := h.c.Conversations()
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Turns, 100)
}

// gatedStore holds registry writes until released.
type gatedStore struct {
	*sessions.Registry
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Create(ctx context.Context, conv domain.Conversation) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Registry.Create(ctx, conv)
}

func TestCommit_ReadersDoNotWaitForRegistryWrite(t *testing.T) {
	reg, err := sessions.New(repository.NewMemoryStore(), "", nil)
	require.NoError(t, err)
	store := &gatedStore{Registry: reg, entered: make(chan struct{}), release: make(chan struct{})}
	backend := &fakeBackend{session: &fakeSession{replies: []domain.Reply{{Text: "Hi"}}}}
	c, err := NewCoordinator(store, backend.factory,
		WithTypingDelay(time.Millisecond, time.Millisecond), WithSettleMargin(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	c.NewChat(context.Background())

	require.True(t, c.SendTurn(context.Background(), "Hello"))
	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("commit never reached the registry")
	}

	read := make(chan struct{})
	go func() {
		defer close(read)
		_ = c.Snapshot()
		_ = c.CanSend()
		_ = c.Conversations()
	}()
	select {
	case <-read:
	case <-time.After(time.Second):
		close(store.release)
		t.Fatal("readers blocked behind the registry write")
	}
	require.Equal(t, StateAnimating, c.State())
	require.False(t, c.CanSend())
	require.Equal(t, []string{"USER:Hello", "AI:Hi"}, texts(c.Snapshot()))

	close(store.release)
	waitIdle(t, c)
	require.Equal(t, StateReady, c.State())
	require.NotEmpty(t, c.ActiveID())
	require.Len(t, c.Conversations(), 1)
}
