package matchplay

import (
	"context"
	"testing"
	"time"

	"matchplay-gameserver/services"
)

func propsWithPlayers(ids ...string) services.MatchProperties {
	props := services.MatchProperties{Teams: []services.Team{{Name: "default", ID: "team-1"}}}
	for _, id := range ids {
		props.Players = append(props.Players, services.Player{ID: id})
		props.Teams[0].PlayerIDs = append(props.Teams[0].PlayerIDs, id)
	}
	return props
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBackfiller_NeedsPlayers(t *testing.T) {
	tests := []struct {
		name       string
		players    []string
		maxPlayers int
		want       bool
	}{
		{name: "empty roster", players: nil, maxPlayers: 4, want: true},
		{name: "below capacity", players: []string{"a", "b"}, maxPlayers: 4, want: true},
		{name: "at capacity", players: []string{"a", "b", "c", "d"}, maxPlayers: 4, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackfiller(&fakeMatchmaker{}, "127.0.0.1:7777", "casual-queue", propsWithPlayers(tt.players...), tt.maxPlayers)
			if got := b.NeedsPlayers(); got != tt.want {
				t.Errorf("NeedsPlayers() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestBackfiller_AddPlayer(t *testing.T) {
	fake := &fakeMatchmaker{
		backfillCreateID: "bf-1",
		approveTicket:    &services.BackfillTicket{ID: "bf-1", Properties: services.BackfillTicketProperties{MatchProperties: propsWithPlayers("a")}},
	}
	b := NewBackfiller(fake, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a"), 4)

	// Not active yet: add is rejected.
	b.AddPlayer(services.UserData{UserAuthID: "b"})
	if got := b.PlayerCount(); got != 1 {
		t.Fatalf("PlayerCount() after inactive add = %#v, want 1", got)
	}

	b.Interval = time.Hour // keep the loop parked for this test
	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("BeginBackfilling() err: %#v", err)
	}
	defer b.Dispose(context.Background())

	b.AddPlayer(services.UserData{UserAuthID: "b"})
	b.AddPlayer(services.UserData{UserAuthID: "b"}) // duplicate is a no-op
	if got := b.PlayerCount(); got != 2 {
		t.Errorf("PlayerCount() = %#v, want 2", got)
	}
}

func TestBackfiller_RemovePlayer(t *testing.T) {
	tests := []struct {
		name      string
		remove    string
		wantCount int
	}{
		{name: "present id removed", remove: "a", wantCount: 1},
		{name: "unknown id unchanged", remove: "zz", wantCount: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackfiller(&fakeMatchmaker{}, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a", "b"), 4)
			if got := b.RemovePlayer(tt.remove); got != tt.wantCount {
				t.Errorf("RemovePlayer() = %#v, want %#v", got, tt.wantCount)
			}
			if got := b.PlayerCount(); got != tt.wantCount {
				t.Errorf("PlayerCount() = %#v, want %#v", got, tt.wantCount)
			}
		})
	}
}

func TestBackfiller_RemoveUnknownDoesNotDirty(t *testing.T) {
	b := NewBackfiller(&fakeMatchmaker{}, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a"), 4)
	b.RemovePlayer("zz")
	b.mu.Lock()
	dirty := b.dirty
	b.mu.Unlock()
	if dirty {
		t.Error("removing an unknown id marked state dirty")
	}
}

func TestBackfiller_ResumesPayloadTicket(t *testing.T) {
	fake := &fakeMatchmaker{}
	props := propsWithPlayers("a")
	props.BackfillTicketID = "bf-resume"
	b := NewBackfiller(fake, "127.0.0.1:7777", "casual-queue", props, 4)
	b.Interval = time.Hour

	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("BeginBackfilling() err: %#v", err)
	}
	defer b.Dispose(context.Background())

	if fake.backfillCreates != 0 {
		t.Errorf("backfill creates = %#v, want 0 when resuming a payload ticket", fake.backfillCreates)
	}
}

func TestBackfiller_BeginTwiceIsNoop(t *testing.T) {
	fake := &fakeMatchmaker{backfillCreateID: "bf-1"}
	b := NewBackfiller(fake, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a"), 4)
	b.Interval = time.Hour

	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("BeginBackfilling() err: %#v", err)
	}
	defer b.Dispose(context.Background())
	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("second BeginBackfilling() err: %#v", err)
	}
	if fake.backfillCreates != 1 {
		t.Errorf("backfill creates = %#v, want 1", fake.backfillCreates)
	}
}

func TestBackfiller_DirtyStatePushed(t *testing.T) {
	fake := &fakeMatchmaker{
		backfillCreateID: "bf-1",
		approveTicket:    &services.BackfillTicket{ID: "bf-1", Properties: services.BackfillTicketProperties{MatchProperties: propsWithPlayers("a")}},
	}
	b := NewBackfiller(fake, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a"), 8)
	b.Interval = time.Millisecond

	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("BeginBackfilling() err: %#v", err)
	}
	defer b.Dispose(context.Background())

	b.AddPlayer(services.UserData{UserAuthID: "b"})
	waitFor(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.updates) > 0
	}, "dirty roster never pushed")

	fake.mu.Lock()
	pushed := fake.updates[0]
	fake.mu.Unlock()
	if got := len(pushed.Properties.MatchProperties.Players); got != 2 {
		t.Errorf("pushed roster size = %#v, want 2", got)
	}
}

func TestBackfiller_CleanStatePullsRemote(t *testing.T) {
	remote := &services.BackfillTicket{
		ID:         "bf-1",
		Properties: services.BackfillTicketProperties{MatchProperties: propsWithPlayers("a", "remote-added")},
	}
	fake := &fakeMatchmaker{backfillCreateID: "bf-1", approveTicket: remote}
	b := NewBackfiller(fake, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a"), 8)
	b.Interval = time.Millisecond

	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("BeginBackfilling() err: %#v", err)
	}
	defer b.Dispose(context.Background())

	waitFor(t, func() bool { return b.PlayerCount() == 2 }, "remote roster never adopted")
}

func TestBackfiller_AdoptedTicketWithoutTeamsGetsDefault(t *testing.T) {
	// Some backends return backfill tickets with a bare player list; a
	// join after adopting one still needs a team to slot into.
	remote := &services.BackfillTicket{
		ID: "bf-1",
		Properties: services.BackfillTicketProperties{
			MatchProperties: services.MatchProperties{Players: []services.Player{{ID: "a"}, {ID: "b"}}},
		},
	}
	fake := &fakeMatchmaker{backfillCreateID: "bf-1", approveTicket: remote, echoUpdates: true}
	b := NewBackfiller(fake, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a"), 8)
	b.Interval = time.Millisecond

	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("BeginBackfilling() err: %#v", err)
	}
	defer b.Dispose(context.Background())

	waitFor(t, func() bool { return b.PlayerCount() == 2 }, "remote roster never adopted")

	b.AddPlayer(services.UserData{UserAuthID: "c"})
	if got := b.PlayerCount(); got != 3 {
		t.Fatalf("PlayerCount() = %#v, want 3", got)
	}
	b.mu.Lock()
	teams := b.ticket.Properties.MatchProperties.Teams
	b.mu.Unlock()
	if len(teams) != 1 || len(teams[0].PlayerIDs) != 1 || teams[0].PlayerIDs[0] != "c" {
		t.Errorf("teams after adoption = %#v, want a default team holding the join", teams)
	}
}

func TestBackfiller_StopsAtCapacityOnce(t *testing.T) {
	fake := &fakeMatchmaker{
		backfillCreateID: "bf-1",
		approveTicket:    &services.BackfillTicket{ID: "bf-1", Properties: services.BackfillTicketProperties{MatchProperties: propsWithPlayers("a")}},
	}
	b := NewBackfiller(fake, "127.0.0.1:7777", "casual-queue", propsWithPlayers("a"), 2)
	b.Interval = time.Millisecond

	if err := b.BeginBackfilling(context.Background()); err != nil {
		t.Fatalf("BeginBackfilling() err: %#v", err)
	}
	b.AddPlayer(services.UserData{UserAuthID: "b"}) // roster now at capacity

	waitFor(t, func() bool { return !b.IsBackfilling() }, "loop did not stop at capacity")

	fake.mu.Lock()
	deleted := append([]string(nil), fake.backfillDeleted...)
	fake.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "bf-1" {
		t.Errorf("backfill deletes = %#v, want exactly [bf-1]", deleted)
	}

	// A later explicit stop is rejected without a second delete.
	if err := b.StopBackfill(context.Background()); err != nil {
		t.Fatalf("StopBackfill() err: %#v", err)
	}
	fake.mu.Lock()
	n := len(fake.backfillDeleted)
	fake.mu.Unlock()
	if n != 1 {
		t.Errorf("backfill deletes after redundant stop = %#v, want 1", n)
	}
}
