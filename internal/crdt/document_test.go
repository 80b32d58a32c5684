package crdt

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/dshills/katalyst/internal/text"
)

func mustInsert(t *testing.T, d *Document, pos int, s string) []Op {
	t.Helper()
	ops, err := d.Insert(pos, s, "test")
	if err != nil {
		t.Fatalf("Insert(%d, %q): %v", pos, s, err)
	}
	return ops
}

func mustDelete(t *testing.T, d *Document, pos, n int) []Op {
	t.Helper()
	ops, err := d.Delete(pos, n, "test")
	if err != nil {
		t.Fatalf("Delete(%d, %d): %v", pos, n, err)
	}
	return ops
}

func mustApply(t *testing.T, d *Document, ops []Op) {
	t.Helper()
	if err := d.Apply(ops, "remote"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestLocalEdits(t *testing.T) {
	d := New(1)

	mustInsert(t, d, 0, "hello")
	mustInsert(t, d, 5, " world")
	mustDelete(t, d, 0, 1)
	mustInsert(t, d, 0, "J")

	if d.String() != "Jello world" {
		t.Errorf("expected %q, got %q", "Jello world", d.String())
	}
	if d.Len() != 11 {
		t.Errorf("expected length 11, got %d", d.Len())
	}
	// 11 inserts + 1 delete + 1 insert.
	if sv := d.StateVector(); sv[1] != 13 {
		t.Errorf("expected clock 13, got %d", sv[1])
	}
}

func TestSurrogateWidth(t *testing.T) {
	d := New(1)
	mustInsert(t, d, 0, "a😀b")

	if d.Len() != 4 {
		t.Fatalf("expected UTF-16 length 4, got %d", d.Len())
	}
	mustDelete(t, d, 1, 2)
	if d.String() != "ab" {
		t.Errorf("expected ab, got %q", d.String())
	}
}

func TestOutOfRange(t *testing.T) {
	d := New(1)
	mustInsert(t, d, 0, "abc")

	if _, err := d.Insert(4, "x", "test"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := d.Delete(2, 5, "test"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := d.Insert(-1, "x", "test"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestApplyEdit(t *testing.T) {
	d := New(1)
	mustInsert(t, d, 0, "hello world")

	var events []Event
	d.Observe(func(ev Event) { events = append(events, ev) })

	if _, err := d.ApplyEdit(text.NewReplace(6, 11, "there"), "binding"); err != nil {
		t.Fatal(err)
	}
	if d.String() != "hello there" {
		t.Errorf("expected %q, got %q", "hello there", d.String())
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Origin != "binding" || ev.Remote {
		t.Errorf("unexpected event origin %q remote %v", ev.Origin, ev.Remote)
	}
	if len(ev.Ops) != 10 {
		t.Errorf("expected 10 ops, got %d", len(ev.Ops))
	}
}

func TestConcurrentInsertSamePosition(t *testing.T) {
	a := New(1)
	b := New(2)

	opsA := mustInsert(t, a, 0, "x")
	opsB := mustInsert(t, b, 0, "y")

	mustApply(t, a, opsB)
	mustApply(t, b, opsA)

	if a.String() != b.String() {
		t.Fatalf("replicas diverged: %q vs %q", a.String(), b.String())
	}
	if a.String() != "xy" {
		t.Errorf("expected lower client first, got %q", a.String())
	}
}

func TestConcurrentWordsDoNotInterleave(t *testing.T) {
	base := New(9)
	baseOps := mustInsert(t, base, 0, "[]")

	a := New(1)
	b := New(2)
	mustApply(t, a, baseOps)
	mustApply(t, b, baseOps)

	opsA := mustInsert(t, a, 1, "alpha")
	opsB := mustInsert(t, b, 1, "beta")

	mustApply(t, a, opsB)
	mustApply(t, b, opsA)

	if a.String() != b.String() {
		t.Fatalf("replicas diverged: %q vs %q", a.String(), b.String())
	}
	if a.String() != "[alphabeta]" {
		t.Errorf("expected %q, got %q", "[alphabeta]", a.String())
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	a := New(1)
	ops := mustInsert(t, a, 0, "abc")
	ops = append(ops, mustDelete(t, a, 1, 1)...)

	reversed := make([]Op, len(ops))
	for i, op := range ops {
		reversed[len(ops)-1-i] = op
	}

	b := New(2)
	mustApply(t, b, reversed[:2])
	if b.Pending() != 2 {
		t.Errorf("expected 2 buffered ops, got %d", b.Pending())
	}
	if b.String() != "" {
		t.Errorf("nothing should be visible yet, got %q", b.String())
	}

	mustApply(t, b, reversed[2:])
	if b.Pending() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Pending())
	}
	if b.String() != "ac" {
		t.Errorf("expected ac, got %q", b.String())
	}
}

func TestApplyIdempotent(t *testing.T) {
	a := New(1)
	ops := mustInsert(t, a, 0, "abc")

	b := New(2)
	mustApply(t, b, ops)
	mustApply(t, b, ops)
	mustApply(t, b, ops[1:2])

	if b.String() != "abc" {
		t.Errorf("expected abc, got %q", b.String())
	}
}

func TestConcurrentDeleteSameChar(t *testing.T) {
	a := New(1)
	base := mustInsert(t, a, 0, "abc")
	b := New(2)
	mustApply(t, b, base)

	delA := mustDelete(t, a, 1, 1)
	delB := mustDelete(t, b, 1, 1)
	mustApply(t, a, delB)
	mustApply(t, b, delA)

	if a.String() != "ac" || b.String() != "ac" {
		t.Errorf("expected ac on both, got %q and %q", a.String(), b.String())
	}
}

func TestDiffSync(t *testing.T) {
	a := New(1)
	b := New(2)
	mustApply(t, b, mustInsert(t, a, 0, "shared "))

	mustInsert(t, a, 7, "from a")
	mustInsert(t, b, 0, ">> ")

	// Each side sends what the other is missing.
	mustApply(t, b, a.Diff(b.StateVector()))
	mustApply(t, a, b.Diff(a.StateVector()))

	if a.String() != b.String() {
		t.Fatalf("replicas diverged: %q vs %q", a.String(), b.String())
	}
	if a.String() != ">> shared from a" {
		t.Errorf("unexpected content %q", a.String())
	}
	if !a.StateVector().Covers(b.StateVector()) || !b.StateVector().Covers(a.StateVector()) {
		t.Error("state vectors should match after sync")
	}
	if len(a.Diff(b.StateVector())) != 0 {
		t.Error("nothing should be missing after sync")
	}
}

func TestRemoteEventEditsReproduceContent(t *testing.T) {
	a := New(1)
	mustInsert(t, a, 0, "hello world")
	mustDelete(t, a, 0, 6)
	mustInsert(t, a, 5, "!")

	b := New(2)
	mustInsert(t, b, 0, "zz")

	shadow := b.String()
	b.Observe(func(ev Event) {
		if !ev.Remote {
			return
		}
		for _, e := range ev.Edits {
			shadow = e.Apply(shadow)
		}
	})

	mustApply(t, b, a.Diff(nil))
	if shadow != b.String() {
		t.Errorf("event edits produced %q, document is %q", shadow, b.String())
	}
}

func TestObserveUnsubscribe(t *testing.T) {
	d := New(1)
	calls := 0
	off := d.Observe(func(Event) { calls++ })

	mustInsert(t, d, 0, "a")
	off()
	mustInsert(t, d, 1, "b")

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestApplyRejectsMalformed(t *testing.T) {
	d := New(1)
	bad := []Op{{Kind: OpInsert, ID: ID{Client: 2}, Text: "ab"}}
	if err := d.Apply(bad, "remote"); !errors.Is(err, ErrMalformedUpdate) {
		t.Errorf("expected ErrMalformedUpdate, got %v", err)
	}
	bad = []Op{{Kind: OpDelete, ID: ID{Client: 2}}}
	if err := d.Apply(bad, "remote"); !errors.Is(err, ErrMalformedUpdate) {
		t.Errorf("expected ErrMalformedUpdate, got %v", err)
	}
}

// permutations returns every ordering of 0..n-1.
func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestConvergenceAllOrderings(t *testing.T) {
	base := New(100)
	baseOps := mustInsert(t, base, 0, "func main() {}")

	replicas := []*Document{New(1), New(2), New(3), New(4)}
	for _, r := range replicas {
		mustApply(t, r, baseOps)
	}

	batches := [][]Op{
		mustInsert(t, replicas[0], 13, "fmt.Println()"),
		mustDelete(t, replicas[1], 5, 4),
		append(mustInsert(t, replicas[2], 0, "// x\n"), mustDelete(t, replicas[2], 18, 1)...),
		mustInsert(t, replicas[3], 13, "return"),
	}

	var want string
	for i, order := range permutations(len(batches)) {
		d := New(50)
		mustApply(t, d, baseOps)
		for _, idx := range order {
			mustApply(t, d, batches[idx])
		}
		if d.Pending() != 0 {
			t.Fatalf("ordering %v left %d pending ops", order, d.Pending())
		}
		if i == 0 {
			want = d.String()
			continue
		}
		if got := d.String(); got != want {
			t.Fatalf("ordering %v produced %q, want %q", order, got, want)
		}
	}
}

func TestConvergenceRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const clients = 3
	replicas := make([]*Document, clients)
	for i := range replicas {
		replicas[i] = New(uint32(i + 1))
	}

	alphabet := []rune("abcxyz 😀\n")
	for round := 0; round < 60; round++ {
		r := replicas[rng.Intn(clients)]
		if r.Len() > 0 && rng.Intn(3) == 0 {
			pos := rng.Intn(r.Len())
			n := 1 + rng.Intn(3)
			if pos+n > r.Len() {
				n = r.Len() - pos
			}
			if _, err := r.Delete(pos, n, "test"); err != nil {
				t.Fatalf("round %d: delete: %v", round, err)
			}
		} else {
			pos := rng.Intn(r.Len() + 1)
			s := string(alphabet[rng.Intn(len(alphabet))]) + string(alphabet[rng.Intn(len(alphabet))])
			if _, err := r.Insert(pos, s, "test"); err != nil {
				t.Fatalf("round %d: insert: %v", round, err)
			}
		}

		// Occasionally sync one pair in one direction.
		if rng.Intn(4) == 0 {
			from := replicas[rng.Intn(clients)]
			to := replicas[rng.Intn(clients)]
			if from != to {
				mustApply(t, to, from.Diff(to.StateVector()))
			}
		}
	}

	for _, from := range replicas {
		for _, to := range replicas {
			if from != to {
				mustApply(t, to, from.Diff(to.StateVector()))
			}
		}
	}

	want := replicas[0].String()
	for i, r := range replicas[1:] {
		if got := r.String(); got != want {
			t.Errorf("replica %d: %q, want %q", i+2, got, want)
		}
	}
}

func TestEncodeDecodeUpdate(t *testing.T) {
	d := New(7)
	ops := mustInsert(t, d, 0, "hi😀")
	ops = append(ops, mustDelete(t, d, 0, 1)...)

	data, err := EncodeUpdate(ops)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeUpdate(data)
	if err != nil {
		t.Fatal(err)
	}

	other := New(8)
	mustApply(t, other, decoded)
	if other.String() != d.String() {
		t.Errorf("expected %q, got %q", d.String(), other.String())
	}

	if _, err := DecodeUpdate([]byte("not cbor")); !errors.Is(err, ErrMalformedUpdate) {
		t.Errorf("expected ErrMalformedUpdate, got %v", err)
	}
}

func TestEncodeDecodeStateVector(t *testing.T) {
	sv := StateVector{1: 4, 99: 12}
	data, err := EncodeStateVector(sv)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeStateVector(data)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(got) != fmt.Sprint(sv) {
		t.Errorf("expected %v, got %v", sv, got)
	}

	empty, err := EncodeStateVector(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err = DecodeStateVector(empty)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("expected empty vector, got %v (%v)", got, err)
	}
}
