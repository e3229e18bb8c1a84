package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matchplay-gameserver/events"
	"matchplay-gameserver/services"
)

// fakeMultiplay scripts the orchestrator: the allocation id appears in the
// server config after allocateAfter polls.
type fakeMultiplay struct {
	mu            sync.Mutex
	configCalls   int
	allocateAfter int
	allocationID  string
	payload       *services.AllocationPayload
	payloadCalls  int
	payloadAfter  int
	payloadErr    error
	handlerErr    error
	pushes        []services.QueryState
}

func (f *fakeMultiplay) ServerConfig(ctx context.Context) (*services.ServerConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configCalls++
	cfg := &services.ServerConfig{ServerID: "srv-1", Port: 7777, QueryPort: 7787}
	if f.configCalls > f.allocateAfter {
		cfg.AllocationID = f.allocationID
	}
	return cfg, nil
}

func (f *fakeMultiplay) PayloadAllocation(ctx context.Context) (*services.AllocationPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payloadErr != nil {
		return nil, f.payloadErr
	}
	f.payloadCalls++
	if f.payloadCalls <= f.payloadAfter {
		// The machine agent has not published the payload yet.
		return nil, nil
	}
	return f.payload, nil
}

func (f *fakeMultiplay) StartQueryHandler(ctx context.Context, capacity int, serverName, buildID string) (services.QueryHandler, error) {
	if f.handlerErr != nil {
		return nil, f.handlerErr
	}
	return &fakeQueryHandler{owner: f}, nil
}

type fakeQueryHandler struct{ owner *fakeMultiplay }

func (h *fakeQueryHandler) Push(ctx context.Context, state services.QueryState) error {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	h.owner.pushes = append(h.owner.pushes, state)
	return nil
}

func (f *fakeMultiplay) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

// fakeSubscriber delivers scripted events once started, then blocks until
// ctx is cancelled like a real subscription.
type fakeSubscriber struct {
	evs []events.AllocationEvent
}

func (s *fakeSubscriber) Start(ctx context.Context, handler func(context.Context, *events.AllocationEvent) error) error {
	for i := range s.evs {
		if err := handler(ctx, &s.evs[i]); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestMonitor_AwaitAllocationFromConfigPoll(t *testing.T) {
	fake := &fakeMultiplay{
		allocateAfter: 3,
		allocationID:  "alloc-1",
		payload: &services.AllocationPayload{
			AllocationID: "alloc-1",
			QueueName:    "casual-queue",
		},
	}
	m := NewMonitor(fake, nil)
	m.PollInterval = time.Millisecond

	payload, err := m.AwaitAllocation(context.Background())
	if err != nil {
		t.Fatalf("AwaitAllocation() err: %#v", err)
	}
	if payload.AllocationID != "alloc-1" || payload.QueueName != "casual-queue" {
		t.Errorf("payload mismatch: %#v", payload)
	}
}

func TestMonitor_AwaitAllocationFromEvent(t *testing.T) {
	fake := &fakeMultiplay{
		allocateAfter: 1 << 30, // config never carries the id
		payload:       &services.AllocationPayload{AllocationID: "alloc-2", QueueName: "ranked-queue"},
	}
	sub := &fakeSubscriber{evs: []events.AllocationEvent{
		{Type: events.Error, Message: "transient"},
		{Type: events.Allocated, AllocationID: "alloc-2"},
	}}
	m := NewMonitor(fake, sub)
	m.PollInterval = time.Millisecond
	defer m.Dispose()

	payload, err := m.AwaitAllocation(context.Background())
	if err != nil {
		t.Fatalf("AwaitAllocation() err: %#v", err)
	}
	if payload.AllocationID != "alloc-2" {
		t.Errorf("payload mismatch: %#v", payload)
	}
}

func TestMonitor_AwaitAllocationPayloadPublishedLate(t *testing.T) {
	// The allocation id can be visible in the server config before the
	// machine agent publishes the payload; the wait must ride out the gap.
	fake := &fakeMultiplay{
		allocateAfter: 0,
		allocationID:  "alloc-3",
		payloadAfter:  3,
		payload:       &services.AllocationPayload{AllocationID: "alloc-3", QueueName: "casual-queue"},
	}
	m := NewMonitor(fake, nil)
	m.PollInterval = time.Millisecond

	payload, err := m.AwaitAllocation(context.Background())
	if err != nil {
		t.Fatalf("AwaitAllocation() err: %#v", err)
	}
	if payload == nil || payload.AllocationID != "alloc-3" {
		t.Fatalf("payload = %#v, want alloc-3 once published", payload)
	}
	fake.mu.Lock()
	calls := fake.payloadCalls
	fake.mu.Unlock()
	if calls != 4 {
		t.Errorf("payload fetches = %#v, want 4 (three empty, one published)", calls)
	}
}

func TestMonitor_AwaitAllocationPayloadNeverPublished(t *testing.T) {
	fake := &fakeMultiplay{
		allocateAfter: 0,
		allocationID:  "alloc-4",
		payloadAfter:  1 << 30, // agent never publishes
	}
	m := NewMonitor(fake, nil)
	m.PollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	payload, err := m.AwaitAllocation(ctx)
	if payload != nil {
		t.Errorf("payload = %#v, want nil when never published", payload)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %#v, want context.DeadlineExceeded", err)
	}
}

func TestMonitor_AwaitAllocationDeadline(t *testing.T) {
	fake := &fakeMultiplay{allocateAfter: 1 << 30}
	m := NewMonitor(fake, nil)
	m.PollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	payload, err := m.AwaitAllocation(ctx)
	if payload != nil {
		t.Errorf("payload = %#v, want nil on deadline", payload)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %#v, want context.DeadlineExceeded", err)
	}
}

func TestMonitor_ServerCheckLoop(t *testing.T) {
	fake := &fakeMultiplay{}
	m := NewMonitor(fake, nil)
	m.PushInterval = time.Millisecond

	if err := m.BeginServerCheck(context.Background(), 20, "tanks-1", "build-7"); err != nil {
		t.Fatalf("BeginServerCheck() err: %#v", err)
	}
	m.SetMap("canyon")
	m.SetMode("deathmatch")
	m.AddPlayer()
	m.AddPlayer()
	m.RemovePlayer()

	deadline := time.Now().Add(2 * time.Second)
	for fake.pushCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Dispose()

	fake.mu.Lock()
	last := fake.pushes[len(fake.pushes)-1]
	fake.mu.Unlock()
	if last.ServerName != "tanks-1" || last.BuildID != "build-7" || last.MaxPlayers != 20 {
		t.Errorf("advertised identity mismatch: %#v", last)
	}
	if last.Map != "canyon" || last.GameType != "deathmatch" {
		t.Errorf("advertised map/mode mismatch: %#v", last)
	}
	if last.CurrentPlayers != 1 {
		t.Errorf("advertised players = %#v, want 1", last.CurrentPlayers)
	}
}

func TestMonitor_BeginServerCheckError(t *testing.T) {
	fake := &fakeMultiplay{handlerErr: errors.New("query port busy")}
	m := NewMonitor(fake, nil)

	if err := m.BeginServerCheck(context.Background(), 20, "tanks-1", ""); err == nil {
		t.Fatal("BeginServerCheck() err = nil, want error")
	}
}

func TestMonitor_DisposeIdempotent(t *testing.T) {
	m := NewMonitor(&fakeMultiplay{}, nil)
	// Never started: both calls must be safe no-ops.
	m.Dispose()
	m.Dispose()
}
