package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/katalyst/internal/clock"
	"github.com/dshills/katalyst/internal/crdt"
	"github.com/dshills/katalyst/internal/eventloop"
	"github.com/dshills/katalyst/internal/text"
	"github.com/dshills/katalyst/internal/transport"
)

type peer struct {
	s    *Session
	loop *eventloop.Manual
}

type room struct {
	t     *testing.T
	hub   *transport.Hub
	clk   *clock.FakeClock
	peers []*peer
}

func newRoom(t *testing.T) *room {
	return &room{t: t, hub: transport.NewHub(), clk: clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))}
}

func (r *room) join(client uint32, name string) *peer {
	r.t.Helper()
	loop := eventloop.NewManual()
	s, err := Open(context.Background(), "room-1", Options{
		Transport: r.hub,
		Loop:      loop,
		Clock:     r.clk,
		Identity:  Identity{Name: name, Color: "#000000"},
		ClientID:  client,
	})
	if err != nil {
		r.t.Fatalf("Open: %v", err)
	}
	p := &peer{s: s, loop: loop}
	r.peers = append(r.peers, p)
	r.settle()
	return p
}

// settle runs every peer's loop until none has work left.
func (r *room) settle() {
	for range 100 {
		ran := 0
		for _, p := range r.peers {
			ran += p.loop.RunPending()
		}
		if ran == 0 {
			return
		}
	}
	r.t.Fatal("loops did not settle")
}

func (p *peer) doc(t *testing.T, file string) *crdt.Document {
	t.Helper()
	d, err := p.s.Document(file)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	return d
}

func names(ps []Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestOpenRequiresTransportAndLoop(t *testing.T) {
	if _, err := Open(context.Background(), "r", Options{Loop: eventloop.NewManual()}); err == nil {
		t.Error("expected error without transport")
	}
	if _, err := Open(context.Background(), "r", Options{Transport: transport.NewHub()}); err == nil {
		t.Error("expected error without loop")
	}
}

func TestSessionConnectedStatus(t *testing.T) {
	r := newRoom(t)
	loop := eventloop.NewManual()
	s, err := Open(context.Background(), "room-1", Options{Transport: r.hub, Loop: loop, Clock: r.clk})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Connected() {
		t.Error("status must not change before the loop runs")
	}
	var seen []bool
	s.OnStatus(func(c bool) { seen = append(seen, c) })
	loop.RunPending()

	if !s.Connected() {
		t.Error("expected connected")
	}
	if s.ClientID() == 0 {
		t.Error("random client ID must be non-zero")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("expected [true false], got %v", seen)
	}
}

func TestConcurrentInsertsConverge(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")
	da, db := a.doc(t, "main.go"), b.doc(t, "main.go")
	r.settle()

	if _, err := da.Insert(0, "x", "local"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Insert(0, "y", "local"); err != nil {
		t.Fatal(err)
	}
	r.settle()

	if da.String() != "xy" || db.String() != "xy" {
		t.Errorf("expected both to read %q, got %q and %q", "xy", da.String(), db.String())
	}
}

func TestFilesAreIndependent(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")
	a.doc(t, "a.go")
	a.doc(t, "b.go")
	b.doc(t, "a.go")
	b.doc(t, "b.go")

	mustInsert(t, a.doc(t, "a.go"), 0, "alpha")
	mustInsert(t, b.doc(t, "b.go"), 0, "beta")
	r.settle()

	if got := b.doc(t, "a.go").String(); got != "alpha" {
		t.Errorf("a.go on b: got %q", got)
	}
	if got := a.doc(t, "b.go").String(); got != "beta" {
		t.Errorf("b.go on a: got %q", got)
	}
	if files := a.s.Files(); len(files) != 2 || files[0] != "a.go" {
		t.Errorf("unexpected files %v", files)
	}
}

func mustInsert(t *testing.T, d *crdt.Document, pos int, s string) {
	t.Helper()
	if _, err := d.Insert(pos, s, "local"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestLateJoinerReceivesContent(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	mustInsert(t, a.doc(t, "main.go"), 0, "package main")
	r.settle()

	c := r.join(3, "Cy")
	if got := c.doc(t, "main.go").String(); got != "package main" {
		t.Errorf("late joiner got %q", got)
	}
}

func TestPartitionHealReconciles(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")
	da, db := a.doc(t, "f"), b.doc(t, "f")
	mustInsert(t, da, 0, "base")
	r.settle()

	conn := b.s.connection()
	r.hub.Partition(conn)
	r.settle()
	if b.s.Connected() {
		t.Error("b should be disconnected")
	}
	if got := names(a.s.Participants()); len(got) != 1 {
		t.Errorf("a should only see itself while b is away, got %v", got)
	}
	if got := names(b.s.Participants()); len(got) != 1 {
		t.Errorf("b should only see itself while away, got %v", got)
	}

	mustInsert(t, da, 4, "-a")
	mustInsert(t, db, 0, "b-")
	r.settle()

	r.hub.Heal(conn)
	r.settle()

	if da.String() != db.String() {
		t.Fatalf("diverged: %q vs %q", da.String(), db.String())
	}
	if da.String() != "b-base-a" {
		t.Errorf("unexpected merge %q", da.String())
	}
	if got := names(a.s.Participants()); len(got) != 2 {
		t.Errorf("b should reappear after heal, got %v", got)
	}
}

func TestParticipantsOrderAndDefaults(t *testing.T) {
	r := newRoom(t)
	a := r.join(9, "Ada")
	r.join(2, "Bob")
	anon := r.join(5, "")
	if err := anon.s.Awareness().SetLocalStateField("user", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	r.settle()

	ps := a.s.Participants()
	if len(ps) != 3 {
		t.Fatalf("expected 3 participants, got %v", names(ps))
	}
	if ps[0].ClientID != 9 || !ps[0].Local {
		t.Errorf("local participant should be first, got %+v", ps[0])
	}
	if ps[1].Name != "Bob" {
		t.Errorf("expected Bob second, got %+v", ps[1])
	}
	if ps[2].Name != DefaultName || ps[2].Color != DefaultColor {
		t.Errorf("expected defaults for empty user, got %+v", ps[2])
	}
}

func TestParticipantsSkipStatesWithoutUser(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")
	if err := b.s.Awareness().SetLocalState(`{"cursor":null}`); err != nil {
		t.Fatal(err)
	}
	r.settle()
	if got := names(a.s.Participants()); len(got) != 1 || got[0] != "Ada" {
		t.Errorf("expected only Ada, got %v", got)
	}
}

func TestUpdateIdentityMerges(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")

	var calls int
	a.s.OnParticipants(func([]Participant) { calls++ })
	if err := b.s.UpdateIdentity("Grace", ""); err != nil {
		t.Fatal(err)
	}
	r.settle()

	ps := a.s.Participants()
	if ps[1].Name != "Grace" || ps[1].Color != "#000000" {
		t.Errorf("expected name change with color kept, got %+v", ps[1])
	}
	if calls == 0 {
		t.Error("expected participants callback")
	}

	if err := b.s.UpdateIdentity("", "#123456"); err != nil {
		t.Fatal(err)
	}
	r.settle()
	if ps := a.s.Participants(); ps[1].Name != "Grace" || ps[1].Color != "#123456" {
		t.Errorf("expected color change with name kept, got %+v", ps[1])
	}
}

func TestSharedCursor(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")

	pos := text.Pos(3, 7)
	if err := b.s.SetCursor("main.go", &pos); err != nil {
		t.Fatal(err)
	}
	r.settle()
	p := a.s.Participants()[1]
	if p.Cursor == nil || *p.Cursor != pos || p.File != "main.go" {
		t.Errorf("unexpected cursor %+v", p)
	}

	if err := b.s.SetCursor("", nil); err != nil {
		t.Fatal(err)
	}
	r.settle()
	if p := a.s.Participants()[1]; p.Cursor != nil {
		t.Errorf("cursor should be cleared, got %v", p.Cursor)
	}
}

func TestCloseLeavesRoom(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")
	da := a.doc(t, "f")

	if err := b.s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r.settle()
	if got := names(a.s.Participants()); len(got) != 1 {
		t.Errorf("b should be gone, got %v", got)
	}
	if err := b.s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := b.s.Document("f"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	mustInsert(t, da, 0, "still works")
	r.settle()
	if da.String() != "still works" {
		t.Errorf("got %q", da.String())
	}
}

// joinUnsettled opens a session without running any loop, so the test
// controls when each side handles the connect.
func (r *room) joinUnsettled(client uint32) *peer {
	r.t.Helper()
	loop := eventloop.NewManual()
	s, err := Open(context.Background(), "room-1", Options{
		Transport: r.hub,
		Loop:      loop,
		Clock:     r.clk,
		ClientID:  client,
	})
	if err != nil {
		r.t.Fatalf("Open: %v", err)
	}
	p := &peer{s: s, loop: loop}
	r.peers = append(r.peers, p)
	return p
}

func TestOnSyncedAlone(t *testing.T) {
	r := newRoom(t)
	a := r.joinUnsettled(1)
	a.doc(t, "f")
	synced := 0
	a.s.OnSynced("f", func() { synced++ })
	if synced != 0 {
		t.Fatal("synced before connecting")
	}
	r.settle()
	if synced != 1 {
		t.Errorf("synced %d times, want 1", synced)
	}

	// Registering after the round completed still reports it.
	a.s.OnSynced("f", func() { synced++ })
	r.settle()
	if synced != 2 {
		t.Errorf("late registration not reported: %d", synced)
	}
}

func TestOnSyncedWaitsForPeers(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	b := r.join(2, "Bob")
	mustInsert(t, a.doc(t, "f"), 0, "shared")
	b.doc(t, "other")
	r.settle()

	c := r.joinUnsettled(3)
	d := c.doc(t, "g")
	var seen []string
	c.s.OnSynced("g", func() { seen = append(seen, d.String()) })

	c.loop.RunPending()
	if len(seen) != 0 {
		t.Fatalf("synced before peers answered: %v", seen)
	}
	r.settle()
	if len(seen) != 1 || seen[0] != "" {
		t.Errorf("seen = %q, want one empty document", seen)
	}

	fd := c.doc(t, "f")
	var got []string
	c.s.OnSynced("f", func() { got = append(got, fd.String()) })
	r.settle()
	if len(got) != 1 || got[0] != "shared" {
		t.Errorf("f synced as %q, want shared content", got)
	}
}

func TestOnSyncedPeerLeaving(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")

	b := r.joinUnsettled(2)
	b.doc(t, "f")
	synced := false
	b.s.OnSynced("f", func() { synced = true })
	b.loop.RunPending()
	if synced {
		t.Fatal("synced while a has not answered")
	}

	if err := a.s.Close(); err != nil {
		t.Fatal(err)
	}
	r.settle()
	if !synced {
		t.Error("a leaving should end the round")
	}
}

func TestCloseReleasesDocuments(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	a.doc(t, "f")
	a.doc(t, "g")

	if err := a.s.Close(); err != nil {
		t.Fatal(err)
	}
	if files := a.s.Files(); len(files) != 0 {
		t.Errorf("files after close = %v", files)
	}
	called := false
	a.s.OnSynced("f", func() { called = true })
	r.settle()
	if called {
		t.Error("OnSynced after close should not fire")
	}
}

func TestMalformedFramesIgnored(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	d := a.doc(t, "f")

	a.s.handleMessage(transport.Message{From: "x", Data: []byte{0xff, 0x00}})
	bad, err := encodeFrame(frame{Kind: kindUpdate, File: "f", Data: []byte{0x01}})
	if err != nil {
		t.Fatal(err)
	}
	a.s.handleMessage(transport.Message{From: "x", Data: bad})
	if d.String() != "" {
		t.Errorf("document should be untouched, got %q", d.String())
	}
}

func TestSyncReplyForOtherPeerIgnored(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "Ada")
	d := a.doc(t, "f")

	src := crdt.New(7)
	ops, err := src.Insert(0, "hi", "local")
	if err != nil {
		t.Fatal(err)
	}
	data, err := crdt.EncodeUpdate(ops)
	if err != nil {
		t.Fatal(err)
	}
	f, err := encodeFrame(frame{Kind: kindSyncReply, File: "f", To: "someone-else", Client: 7, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	a.s.handleMessage(transport.Message{From: "x", Data: f})
	if d.String() != "" {
		t.Errorf("reply addressed elsewhere applied: %q", d.String())
	}
}

func TestFileID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"main.go", "main.go"},
		{"/src/app.tsx", "src/app.tsx"},
		{`src\lib\util.ts`, "src/lib/util.ts"},
		{"./a/../b.js", "b.js"},
	}
	for _, tt := range tests {
		if got := FileID(tt.in); got != tt.want {
			t.Errorf("FileID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRandomIdentity(t *testing.T) {
	for range 20 {
		id := RandomIdentity()
		if id.Name == "" {
			t.Fatal("empty name")
		}
		found := false
		for _, c := range Palette {
			if c == id.Color {
				found = true
			}
		}
		if !found {
			t.Fatalf("color %q not in palette", id.Color)
		}
	}
}
