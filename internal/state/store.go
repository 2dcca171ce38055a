package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flitsinc/go-backlog/internal/backlog"
)

// Store owns the persisted collections. Every read-modify-write against
// either collection runs under mu: the unit of persistence is the whole
// collection, so two unsynchronized writers would drop each other's updates.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu sync.Mutex
}

func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

func (s *Store) Activities() *ActivityStore { return &ActivityStore{s: s} }

func (s *Store) Boards() *BoardStore { return &BoardStore{s: s} }

// load decodes collection name into dest. A missing collection leaves dest
// untouched; an unparsable one is copied aside and treated as empty.
func (s *Store) load(ctx context.Context, name string, dest any) error {
	data, err := s.backend.Load(ctx, name)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", name, time.Now().UTC().Unix())
		s.logger.Warn("unparsable collection, treating as empty", "collection", name, "error", err, "saved_as", aside)
		if err := s.backend.Replace(ctx, aside, data); err != nil {
			s.logger.Warn("save unparsable collection", "collection", name, "error", err)
		}
		return errUnparsable
	}
	return nil
}

func (s *Store) replace(ctx context.Context, name string, v any) error {
	data, err := encodeCollection(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.backend.Replace(ctx, name, data)
}

var errUnparsable = errors.New("unparsable collection")

// ActivityStore is the activities collection: a JSON array in creation
// order.
type ActivityStore struct {
	s *Store
}

func (a *ActivityStore) loadLocked(ctx context.Context) ([]backlog.Activity, error) {
	var list []backlog.Activity
	if err := a.s.load(ctx, CollectionActivities, &list); err != nil {
		if errors.Is(err, errUnparsable) {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

// List returns activities of workspaceID in creation order, or every
// activity when workspaceID is empty.
func (a *ActivityStore) List(ctx context.Context, workspaceID string) ([]backlog.Activity, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	list, err := a.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if workspaceID == "" {
		return list, nil
	}
	out := make([]backlog.Activity, 0, len(list))
	for _, act := range list {
		if act.WorkspaceID == workspaceID {
			out = append(out, act)
		}
	}
	return out, nil
}

func (a *ActivityStore) Get(ctx context.Context, id, workspaceID string) (backlog.Activity, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	list, err := a.loadLocked(ctx)
	if err != nil {
		return backlog.Activity{}, err
	}
	if i := indexOf(list, id, workspaceID); i >= 0 {
		return list[i], nil
	}
	return backlog.Activity{}, fmt.Errorf("activity %s: %w", id, backlog.ErrNotFound)
}

// Upsert replaces the record with the same id, or appends it. The workspace
// and creation time of an existing record are kept.
func (a *ActivityStore) Upsert(ctx context.Context, act backlog.Activity) (backlog.Activity, error) {
	if act.ID == "" {
		return backlog.Activity{}, fmt.Errorf("activity id is required")
	}
	if act.WorkspaceID == "" {
		return backlog.Activity{}, fmt.Errorf("activity workspace is required")
	}
	if act.AcceptanceCriteria == nil {
		act.AcceptanceCriteria = []string{}
	}

	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	list, err := a.loadLocked(ctx)
	if err != nil {
		return backlog.Activity{}, err
	}
	replaced := false
	for i := range list {
		if list[i].ID != act.ID {
			continue
		}
		if list[i].WorkspaceID != act.WorkspaceID {
			return backlog.Activity{}, fmt.Errorf("activity %s belongs to another workspace", act.ID)
		}
		act.CreatedAt = list[i].CreatedAt
		list[i] = act
		replaced = true
		break
	}
	if !replaced {
		list = append(list, act)
	}
	if err := a.s.replace(ctx, CollectionActivities, list); err != nil {
		return backlog.Activity{}, err
	}
	return act, nil
}

// UpdateStatus changes only the status field.
func (a *ActivityStore) UpdateStatus(ctx context.Context, id, workspaceID string, status backlog.Status) (backlog.Activity, error) {
	return a.mutate(ctx, id, workspaceID, func(act *backlog.Activity) bool {
		act.Status = status
		return true
	})
}

// RecordMessage stores the channel message created for an activity. The
// reference is set once; later calls leave an existing one in place.
func (a *ActivityStore) RecordMessage(ctx context.Context, id, workspaceID, channelID, messageID string) (backlog.Activity, error) {
	return a.mutate(ctx, id, workspaceID, func(act *backlog.Activity) bool {
		if act.MessageID != "" {
			return false
		}
		act.ChannelID = channelID
		act.MessageID = messageID
		return true
	})
}

func (a *ActivityStore) mutate(ctx context.Context, id, workspaceID string, fn func(*backlog.Activity) bool) (backlog.Activity, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	list, err := a.loadLocked(ctx)
	if err != nil {
		return backlog.Activity{}, err
	}
	i := indexOf(list, id, workspaceID)
	if i < 0 {
		return backlog.Activity{}, fmt.Errorf("activity %s: %w", id, backlog.ErrNotFound)
	}
	if !fn(&list[i]) {
		return list[i], nil
	}
	if err := a.s.replace(ctx, CollectionActivities, list); err != nil {
		return backlog.Activity{}, err
	}
	return list[i], nil
}

func indexOf(list []backlog.Activity, id, workspaceID string) int {
	for i, act := range list {
		if act.ID == id && act.WorkspaceID == workspaceID {
			return i
		}
	}
	return -1
}

// BoardStore is the boards collection: a JSON object keyed by workspace.
type BoardStore struct {
	s *Store
}

func (b *BoardStore) loadLocked(ctx context.Context) (map[string]backlog.Board, error) {
	all := map[string]backlog.Board{}
	if err := b.s.load(ctx, CollectionBoards, &all); err != nil {
		if errors.Is(err, errUnparsable) {
			return map[string]backlog.Board{}, nil
		}
		return nil, err
	}
	if all == nil {
		all = map[string]backlog.Board{}
	}
	return all, nil
}

// Get returns the board of workspaceID and whether one has been recorded.
func (b *BoardStore) Get(ctx context.Context, workspaceID string) (backlog.Board, bool, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	all, err := b.loadLocked(ctx)
	if err != nil {
		return backlog.Board{}, false, err
	}
	board, ok := all[workspaceID]
	return board, ok, nil
}

// Set merges patch onto the stored board, creating it if needed, and
// returns the merged record. Fields absent from patch are preserved.
func (b *BoardStore) Set(ctx context.Context, workspaceID string, patch backlog.BoardPatch) (backlog.Board, error) {
	if workspaceID == "" {
		return backlog.Board{}, fmt.Errorf("workspace is required")
	}

	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	all, err := b.loadLocked(ctx)
	if err != nil {
		return backlog.Board{}, err
	}
	merged := all[workspaceID].Apply(patch)
	all[workspaceID] = merged
	if err := b.s.replace(ctx, CollectionBoards, all); err != nil {
		return backlog.Board{}, err
	}
	return merged, nil
}
