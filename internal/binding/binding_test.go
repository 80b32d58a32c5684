package binding

import (
	"errors"
	"testing"

	"github.com/dshills/katalyst/internal/crdt"
	"github.com/dshills/katalyst/internal/surface"
	"github.com/dshills/katalyst/internal/text"
)

// pipe forwards local operations of from into to, as a transport would.
func pipe(t *testing.T, from, to *crdt.Document) {
	t.Helper()
	from.Observe(func(ev crdt.Event) {
		if ev.Remote {
			return
		}
		if err := to.Apply(ev.Ops, "remote"); err != nil {
			t.Errorf("Apply: %v", err)
		}
	})
}

func mustBind(t *testing.T, doc *crdt.Document, surf *surface.Surface, opts Options) *Binding {
	t.Helper()
	b, err := Bind(doc, surf, opts)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return b
}

type cursorLog struct {
	files []string
	pos   []*text.Position
}

func (c *cursorLog) SetCursor(file string, pos *text.Position) error {
	c.files = append(c.files, file)
	c.pos = append(c.pos, pos)
	return nil
}

func (c *cursorLog) last() *text.Position {
	if len(c.pos) == 0 {
		return nil
	}
	return c.pos[len(c.pos)-1]
}

func TestBindLoadsDocument(t *testing.T) {
	doc := crdt.New(1)
	if _, err := doc.Insert(0, "shared", "test"); err != nil {
		t.Fatal(err)
	}
	surf := surface.New("stale local text")
	b := mustBind(t, doc, surf, Options{})
	defer b.Release()

	if surf.Value() != "shared" {
		t.Errorf("expected replica content, got %q", surf.Value())
	}
}

func TestBindEmptyDocumentWins(t *testing.T) {
	doc := crdt.New(1)
	surf := surface.New("package main")
	b := mustBind(t, doc, surf, Options{})
	defer b.Release()

	if surf.Value() != "" {
		t.Errorf("surface should follow the empty document, got %q", surf.Value())
	}
	if doc.Len() != 0 {
		t.Errorf("document seeded on bind: %q", doc.String())
	}
}

func TestSeedRestoresSurfaceContent(t *testing.T) {
	doc := crdt.New(1)
	surf := surface.New("package main\n\nfunc main() {}\n")
	surf.SetCursor(text.Pos(2, 5), surface.OriginLocal)
	b := mustBind(t, doc, surf, Options{})
	defer b.Release()

	seeded, err := b.Seed()
	if err != nil || !seeded {
		t.Fatalf("Seed = %v, %v", seeded, err)
	}
	if doc.String() != "package main\n\nfunc main() {}\n" {
		t.Errorf("document = %q", doc.String())
	}
	if surf.Value() != doc.String() {
		t.Errorf("surface %q and document %q differ", surf.Value(), doc.String())
	}
	if got := surf.Cursor(); got != text.Pos(2, 5) {
		t.Errorf("cursor = %v, want 2:5", got)
	}

	seeded, err = b.Seed()
	if err != nil || seeded {
		t.Errorf("second Seed = %v, %v", seeded, err)
	}
}

func TestSeedSkipsDocumentWithContent(t *testing.T) {
	tests := []struct {
		name string
		fill func(doc *crdt.Document, surf *surface.Surface) error
		want string
	}{
		{
			name: "peer content arrived",
			fill: func(doc *crdt.Document, _ *surface.Surface) error {
				peer := crdt.New(2)
				if _, err := peer.Insert(0, "package main\n", "test"); err != nil {
					return err
				}
				return doc.Apply(peer.Diff(nil), "remote")
			},
			want: "package main\n",
		},
		{
			name: "local typing",
			fill: func(_ *crdt.Document, surf *surface.Surface) error {
				return surf.Type("x")
			},
			want: "x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := crdt.New(1)
			surf := surface.New("package main\n")
			b := mustBind(t, doc, surf, Options{})
			defer b.Release()

			if err := tt.fill(doc, surf); err != nil {
				t.Fatal(err)
			}
			seeded, err := b.Seed()
			if err != nil || seeded {
				t.Fatalf("Seed = %v, %v", seeded, err)
			}
			if doc.String() != tt.want || surf.Value() != tt.want {
				t.Errorf("document %q surface %q, want %q", doc.String(), surf.Value(), tt.want)
			}
		})
	}
}

func TestLocalEditsReachDocument(t *testing.T) {
	doc := crdt.New(1)
	surf := surface.New("")
	b := mustBind(t, doc, surf, Options{})
	defer b.Release()

	if err := surf.Type("hello"); err != nil {
		t.Fatal(err)
	}
	if err := surf.Backspace(); err != nil {
		t.Fatal(err)
	}
	surf.SetSelection(text.Pos(0, 0), text.Pos(0, 2), surface.OriginLocal)
	if err := surf.Type("J"); err != nil {
		t.Fatal(err)
	}

	if doc.String() != "Jll" {
		t.Errorf("document = %q, want %q", doc.String(), "Jll")
	}
	if doc.String() != surf.Value() {
		t.Errorf("surface %q and document %q differ", surf.Value(), doc.String())
	}
}

func TestRemoteChangesRebaseCursor(t *testing.T) {
	remote := crdt.New(2)
	if _, err := remote.Insert(0, "hello world", "test"); err != nil {
		t.Fatal(err)
	}
	doc := crdt.New(1)
	if err := doc.Apply(remote.Diff(nil), "remote"); err != nil {
		t.Fatal(err)
	}
	pipe(t, remote, doc)

	surf := surface.New("")
	b := mustBind(t, doc, surf, Options{})
	defer b.Release()
	surf.SetCursor(text.Pos(0, 5), surface.OriginLocal)

	tests := []struct {
		name string
		edit func() error
		want text.Position
		text string
	}{
		{
			name: "insert before cursor shifts it",
			edit: func() error { _, err := remote.Insert(0, "ab", "test"); return err },
			want: text.Pos(0, 7),
			text: "abhello world",
		},
		{
			name: "insert after cursor leaves it",
			edit: func() error { _, err := remote.Insert(10, "XY", "test"); return err },
			want: text.Pos(0, 7),
			text: "abhello woXYrld",
		},
		{
			name: "delete spanning cursor clamps to start",
			edit: func() error { _, err := remote.Delete(4, 6, "test"); return err },
			want: text.Pos(0, 4),
			text: "abheXYrld",
		},
		{
			name: "newline before cursor moves it down",
			edit: func() error { _, err := remote.Insert(0, "top\n", "test"); return err },
			want: text.Pos(1, 4),
			text: "top\nabheXYrld",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.edit(); err != nil {
				t.Fatal(err)
			}
			if surf.Value() != tt.text {
				t.Errorf("content = %q, want %q", surf.Value(), tt.text)
			}
			if got := surf.Cursor(); got != tt.want {
				t.Errorf("cursor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoteChangePreservesSelection(t *testing.T) {
	remote := crdt.New(2)
	if _, err := remote.Insert(0, "one two three", "test"); err != nil {
		t.Fatal(err)
	}
	doc := crdt.New(1)
	if err := doc.Apply(remote.Diff(nil), "remote"); err != nil {
		t.Fatal(err)
	}
	pipe(t, remote, doc)

	surf := surface.New("")
	b := mustBind(t, doc, surf, Options{})
	defer b.Release()
	surf.SetSelection(text.Pos(0, 4), text.Pos(0, 7), surface.OriginLocal)

	if _, err := remote.Insert(0, ">> ", "test"); err != nil {
		t.Fatal(err)
	}
	anchor, head := surf.Selection()
	if anchor != text.Pos(0, 7) || head != text.Pos(0, 10) {
		t.Errorf("selection = %v..%v, want 0:7..0:10", anchor, head)
	}
}

func TestTwoReplicasThroughBindings(t *testing.T) {
	docA, docB := crdt.New(1), crdt.New(2)
	pipe(t, docA, docB)
	pipe(t, docB, docA)
	surfA, surfB := surface.New(""), surface.New("")
	ba := mustBind(t, docA, surfA, Options{})
	bb := mustBind(t, docB, surfB, Options{})
	defer ba.Release()
	defer bb.Release()

	if err := surfA.Type("func main() {}"); err != nil {
		t.Fatal(err)
	}
	surfB.SetCursor(text.Pos(0, 13), surface.OriginLocal)
	if err := surfB.Type(" return "); err != nil {
		t.Fatal(err)
	}

	want := "func main() { return }"
	if surfA.Value() != want || surfB.Value() != want {
		t.Errorf("surfaces = %q / %q, want %q", surfA.Value(), surfB.Value(), want)
	}
}

func TestBindingConflict(t *testing.T) {
	surf := surface.New("")
	first := mustBind(t, crdt.New(1), surf, Options{})

	if _, err := Bind(crdt.New(2), surf, Options{}); !errors.Is(err, ErrBindingConflict) {
		t.Fatalf("expected ErrBindingConflict, got %v", err)
	}

	first.Release()
	second, err := Bind(crdt.New(2), surf, Options{})
	if err != nil {
		t.Fatalf("Bind after release: %v", err)
	}
	second.Release()
}

func TestSetValueSuppressedWhileBound(t *testing.T) {
	doc := crdt.New(1)
	surf := surface.New("")
	b := mustBind(t, doc, surf, Options{})

	if err := surf.SetValue("overwrite"); !errors.Is(err, surface.ErrSuppressed) {
		t.Errorf("expected ErrSuppressed, got %v", err)
	}
	if doc.String() != "" || surf.Value() != "" {
		t.Error("suppressed write must not change anything")
	}

	b.Release()
	b.Release()
	if err := surf.SetValue("free"); err != nil {
		t.Errorf("SetValue after release: %v", err)
	}
	if doc.String() != "" {
		t.Errorf("released binding still forwarded edits: %q", doc.String())
	}
}

func TestReleaseStopsRemoteUpdates(t *testing.T) {
	doc := crdt.New(1)
	surf := surface.New("")
	b := mustBind(t, doc, surf, Options{})
	b.Release()

	if _, err := doc.Insert(0, "late", "test"); err != nil {
		t.Fatal(err)
	}
	if surf.Value() != "" {
		t.Errorf("surface updated after release: %q", surf.Value())
	}
}

func TestCursorPublished(t *testing.T) {
	doc := crdt.New(1)
	surf := surface.New("")
	log := &cursorLog{}
	b := mustBind(t, doc, surf, Options{File: "main.go", Cursor: log})

	if p := log.last(); p == nil || *p != text.Pos(0, 0) {
		t.Fatalf("expected initial cursor 0:0, got %v", p)
	}
	if err := surf.Type("ab\nc"); err != nil {
		t.Fatal(err)
	}
	if p := log.last(); p == nil || *p != text.Pos(1, 1) {
		t.Errorf("expected 1:1, got %v", p)
	}

	b.Release()
	if log.last() != nil {
		t.Error("release should clear the shared cursor")
	}
	for _, f := range log.files {
		if f != "main.go" {
			t.Errorf("unexpected file %q", f)
		}
	}
}
