package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"phai/internal/domain"
	"phai/internal/repository"
)

// DefaultKey is the storage key the registry blob lives under.
const DefaultKey = "phai_chat_sessions"

var (
	ErrNotFound    = errors.New("sessions: conversation not found")
	ErrDuplicateID = errors.New("sessions: conversation id already exists")
)

// Registry maps conversation ids to conversations, ordered newest first.
// It is hydrated once with Load and rewritten in full on every mutation.
//
// Several processes may share one blob (Lambda containers over one
// DynamoDB item). Every write re-reads the blob first: conversations this
// registry created, updated or deleted since its last successful write win,
// everything else is taken from the stored copy. Two writers touching the
// same conversation at the same moment still race; the last write wins.
//
// A Registry is safe for concurrent use. The store is never called with
// the state lock held.
type Registry struct {
	kv     repository.KV
	key    string
	logger *slog.Logger

	writeMu sync.Mutex // serializes read-merge-write cycles

	mu      sync.Mutex
	convs   []domain.Conversation
	gen     uint64
	dirty   map[string]uint64
	deleted map[string]uint64
}

func New(kv repository.KV, key string, logger *slog.Logger) (*Registry, error) {
	if kv == nil {
		return nil, errors.New("sessions: kv store must not be nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		kv:      kv,
		key:     key,
		logger:  logger,
		dirty:   make(map[string]uint64),
		deleted: make(map[string]uint64),
	}, nil
}

// Load hydrates the registry. A blob that cannot be decoded, or that holds
// duplicate ids, is discarded and the registry starts empty. Only a failing
// read is reported as an error.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	r.convs = nil
	clear(r.dirty)
	clear(r.deleted)
	r.mu.Unlock()

	raw, ok, err := r.kv.Read(ctx, r.key)
	if err != nil {
		return fmt.Errorf("sessions: load: %w", err)
	}
	if !ok {
		return nil
	}
	convs, err := decode(raw)
	if err != nil {
		r.logger.Warn("discarding unreadable chat history", "key", r.key, "err", err)
		if werr := r.persist(ctx); werr != nil {
			r.logger.Error("failed to reset chat history", "key", r.key, "err", werr)
		}
		return nil
	}
	sortByRecency(convs)
	r.mu.Lock()
	r.convs = convs
	r.mu.Unlock()
	return nil
}

func decode(raw []byte) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		return nil, fmt.Errorf("sessions: decode: %w", err)
	}
	seen := make(map[string]struct{}, len(convs))
	for _, c := range convs {
		if strings.TrimSpace(c.ID) == "" {
			return nil, errors.New("sessions: decode: conversation without id")
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("sessions: decode: duplicate id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return convs, nil
}

// List returns a copy of all conversations, newest first.
func (r *Registry) List() []domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Conversation, len(r.convs))
	for i, c := range r.convs {
		out[i] = c.Clone()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

func (r *Registry) Get(id string) (domain.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return domain.Conversation{}, false
	}
	return r.convs[i].Clone(), true
}

// Create inserts a new conversation and persists the registry. The
// in-memory registry keeps the conversation even if the write fails; the
// next successful write carries it.
func (r *Registry) Create(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ID) == "" {
		return errors.New("sessions: conversation id must not be empty")
	}
	r.mu.Lock()
	if r.index(conv.ID) >= 0 {
		r.mu.Unlock()
		return ErrDuplicateID
	}
	r.convs = append(r.convs, conv.Clone())
	sortByRecency(r.convs)
	r.touchLocked(conv.ID)
	r.mu.Unlock()
	return r.persist(ctx)
}

// Update replaces the turn list of an existing conversation. Name and
// creation time are left untouched, so ordering is unaffected.
func (r *Registry) Update(ctx context.Context, id string, turns []domain.Turn) error {
	r.mu.Lock()
	i := r.index(id)
	if i < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.convs[i].Turns = domain.CloneTurns(turns)
	r.touchLocked(id)
	r.mu.Unlock()
	return r.persist(ctx)
}

// Delete removes a conversation. It reports whether id was present.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	i := r.index(id)
	if i < 0 {
		r.mu.Unlock()
		return false, nil
	}
	r.convs = slices.Delete(r.convs, i, i+1)
	r.gen++
	delete(r.dirty, id)
	r.deleted[id] = r.gen
	r.mu.Unlock()
	return true, r.persist(ctx)
}

func (r *Registry) touchLocked(id string) {
	r.gen++
	r.dirty[id] = r.gen
	delete(r.deleted, id)
}

func (r *Registry) index(id string) int {
	return slices.IndexFunc(r.convs, func(c domain.Conversation) bool { return c.ID == id })
}

// persist merges local changes into the stored blob and writes the result.
// Changes stay pending until a write succeeds.
func (r *Registry) persist(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stored, err := r.readStored(ctx)
	if err != nil {
		return fmt.Errorf("sessions: persist: %w", err)
	}

	r.mu.Lock()
	if stored != nil {
		r.convs = r.mergeLocked(stored)
	}
	convs := r.convs
	if convs == nil {
		convs = []domain.Conversation{}
	}
	raw, err := json.Marshal(convs)
	dirty := maps.Clone(r.dirty)
	deleted := maps.Clone(r.deleted)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sessions: encode: %w", err)
	}

	if err := r.kv.Write(ctx, r.key, raw); err != nil {
		return fmt.Errorf("sessions: persist: %w", err)
	}

	r.mu.Lock()
	for id, gen := range dirty {
		if r.dirty[id] == gen {
			delete(r.dirty, id)
		}
	}
	for id, gen := range deleted {
		if r.deleted[id] == gen {
			delete(r.deleted, id)
		}
	}
	r.mu.Unlock()
	return nil
}

// readStored returns the current blob contents, an empty list when there is
// none, or nil when it cannot be decoded and local state should win.
func (r *Registry) readStored(ctx context.Context) ([]domain.Conversation, error) {
	raw, ok, err := r.kv.Read(ctx, r.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.Conversation{}, nil
	}
	convs, err := decode(raw)
	if err != nil {
		r.logger.Warn("overwriting unreadable chat history", "key", r.key, "err", err)
		return nil, nil
	}
	return convs, nil
}

// mergeLocked overlays pending local changes on the stored list. Stored
// conversations this registry deleted are dropped, and local ones without
// pending changes that are missing from the store were deleted elsewhere.
func (r *Registry) mergeLocked(stored []domain.Conversation) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(stored)+len(r.dirty))
	seen := make(map[string]struct{}, len(stored))
	for _, c := range stored {
		if _, gone := r.deleted[c.ID]; gone {
			continue
		}
		if _, mine := r.dirty[c.ID]; mine {
			if i := r.index(c.ID); i >= 0 {
				c = r.convs[i]
			}
		}
		out = append(out, c)
		seen[c.ID] = struct{}{}
	}
	for _, c := range r.convs {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		if _, mine := r.dirty[c.ID]; mine {
			out = append(out, c)
		}
	}
	sortByRecency(out)
	return out
}

func sortByRecency(convs []domain.Conversation) {
	slices.SortStableFunc(convs, func(a, b domain.Conversation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
