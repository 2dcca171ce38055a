package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/render"
	"github.com/flitsinc/go-backlog/internal/state"
	"github.com/flitsinc/go-backlog/internal/testutil"
)

var errTransport = errors.New("connection reset")

type fakeChannel struct {
	mu       sync.Mutex
	next     int
	messages map[string]render.Message // key: channel/message
	calls    map[string]int

	sendErr  error
	fetchErr error
	editErr  error
	// gone makes Fetch succeed but Edit answer not-found once.
	vanishOnEdit bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{messages: map[string]render.Message{}, calls: map[string]int{}}
}

func key(channelID, messageID string) string { return channelID + "/" + messageID }

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, backlog.ErrMessageNotFound)
}

func (f *fakeChannel) Send(_ context.Context, channelID string, msg render.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["send"]++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.next++
	id := fmt.Sprintf("m%d", f.next)
	f.messages[key(channelID, id)] = msg
	return id, nil
}

func (f *fakeChannel) Fetch(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["fetch"]++
	if f.fetchErr != nil {
		return f.fetchErr
	}
	if _, ok := f.messages[key(channelID, messageID)]; !ok {
		return notFound("fetch")
	}
	return nil
}

func (f *fakeChannel) Edit(_ context.Context, channelID, messageID string, msg render.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["edit"]++
	if f.editErr != nil {
		return f.editErr
	}
	if f.vanishOnEdit {
		f.vanishOnEdit = false
		delete(f.messages, key(channelID, messageID))
	}
	k := key(channelID, messageID)
	if _, ok := f.messages[k]; !ok {
		return notFound("edit")
	}
	f.messages[k] = msg
	return nil
}

func (f *fakeChannel) Delete(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	k := key(channelID, messageID)
	if _, ok := f.messages[k]; !ok {
		return notFound("delete")
	}
	delete(f.messages, k)
	return nil
}

func (f *fakeChannel) remove(channelID, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, key(channelID, messageID))
}

func (f *fakeChannel) message(channelID, messageID string) (render.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[key(channelID, messageID)]
	return m, ok
}

func (f *fakeChannel) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

type fakeWebhook struct {
	mu       sync.Mutex
	next     int
	messages map[string]render.Message
	calls    map[string]int

	createErr error
	editErr   error
	editIDs   []string
}

func newFakeWebhook() *fakeWebhook {
	return &fakeWebhook{messages: map[string]render.Message{}, calls: map[string]int{}}
}

func (f *fakeWebhook) Create(_ context.Context, msg render.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	id := fmt.Sprintf("w%d", f.next)
	f.messages[id] = msg
	return id, nil
}

func (f *fakeWebhook) Edit(_ context.Context, messageID string, msg render.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["edit"]++
	f.editIDs = append(f.editIDs, messageID)
	if f.editErr != nil {
		return f.editErr
	}
	if _, ok := f.messages[messageID]; !ok {
		return notFound("webhook edit")
	}
	f.messages[messageID] = msg
	return nil
}

func (f *fakeWebhook) remove(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, messageID)
}

func (f *fakeWebhook) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

type fakeRefiner struct {
	result *backlog.Refinement
	delay  time.Duration
}

func (f fakeRefiner) Refine(ctx context.Context, _ backlog.RawFields) *backlog.Refinement {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil
		}
	}
	return f.result
}

type harness struct {
	engine  *Engine
	store   *state.Store
	channel *fakeChannel
	webhook *fakeWebhook
}

type harnessOpts struct {
	noChannel      bool
	noWebhook      bool
	defaultChannel string
	refiner        Refiner
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	store, _ := testutil.OpenTestStore(t)
	h := &harness{store: store, channel: newFakeChannel(), webhook: newFakeWebhook()}
	opts := Options{
		Store:            store,
		Refiner:          o.refiner,
		DefaultChannelID: o.defaultChannel,
		SinkTimeout:      time.Second,
		RefineTimeout:    100 * time.Millisecond,
		Now:              func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	if !o.noChannel {
		opts.Channel = h.channel
	}
	if !o.noWebhook {
		opts.Webhook = h.webhook
	}
	h.engine = New(opts)
	return h
}

func (h *harness) seed(t *testing.T, acts ...backlog.Activity) {
	t.Helper()
	for _, a := range acts {
		if a.Status == "" {
			a.Status = backlog.StatusOpen
		}
		if _, err := h.store.Activities().Upsert(context.Background(), a); err != nil {
			t.Fatalf("seed %s: %v", a.ID, err)
		}
	}
}
