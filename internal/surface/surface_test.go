package surface

import (
	"errors"
	"testing"

	"github.com/dshills/katalyst/internal/text"
)

func TestNewSurface(t *testing.T) {
	s := New("hello\nworld")

	if s.Value() != "hello\nworld" {
		t.Errorf("unexpected content %q", s.Value())
	}
	if s.LineCount() != 2 {
		t.Errorf("expected 2 lines, got %d", s.LineCount())
	}
	if s.Cursor() != text.Pos(0, 0) {
		t.Errorf("expected cursor at origin, got %v", s.Cursor())
	}
}

func TestTypeMovesCursor(t *testing.T) {
	s := New("")
	if err := s.Type("abc"); err != nil {
		t.Fatalf("Type: %v", err)
	}
	if err := s.Type("\nd"); err != nil {
		t.Fatalf("Type: %v", err)
	}

	if s.Value() != "abc\nd" {
		t.Errorf("expected %q, got %q", "abc\nd", s.Value())
	}
	if s.Cursor() != text.Pos(1, 1) {
		t.Errorf("expected cursor (1:1), got %v", s.Cursor())
	}
	if s.Version() != 2 {
		t.Errorf("expected version 2, got %d", s.Version())
	}
}

func TestTypeReplacesSelection(t *testing.T) {
	s := New("hello world")
	s.SetSelection(text.Pos(0, 6), text.Pos(0, 11), OriginLocal)

	if err := s.Type("there"); err != nil {
		t.Fatalf("Type: %v", err)
	}
	if s.Value() != "hello there" {
		t.Errorf("expected %q, got %q", "hello there", s.Value())
	}
	if s.HasSelection() {
		t.Error("selection should collapse after typing")
	}
}

func TestBackspace(t *testing.T) {
	s := New("a😀")
	s.SetCursor(text.Pos(0, 3), OriginLocal)

	if err := s.Backspace(); err != nil {
		t.Fatalf("Backspace: %v", err)
	}
	if s.Value() != "a" {
		t.Errorf("expected %q, got %q", "a", s.Value())
	}
	if s.CursorOffset() != 1 {
		t.Errorf("expected offset 1, got %d", s.CursorOffset())
	}
}

func TestRemoteEditRebasesCursor(t *testing.T) {
	tests := []struct {
		name string
		edit text.Edit
		want text.Position
	}{
		{"insert before", text.NewInsert(2, "XYZ"), text.Pos(0, 9)},
		{"insert after", text.NewInsert(8, "XYZ"), text.Pos(0, 6)},
		{"delete before", text.NewDelete(0, 2), text.Pos(0, 4)},
		{"delete spanning", text.NewDelete(4, 9), text.Pos(0, 4)},
		{"newline before", text.NewInsert(0, "//\n"), text.Pos(1, 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("hello world")
			s.SetCursor(text.Pos(0, 6), OriginLocal)

			if err := s.ApplyEdits([]text.Edit{tt.edit}, "remote"); err != nil {
				t.Fatalf("ApplyEdits: %v", err)
			}
			if s.Cursor() != tt.want {
				t.Errorf("expected cursor %v, got %v", tt.want, s.Cursor())
			}
		})
	}
}

func TestSelectionAnchorIsSticky(t *testing.T) {
	s := New("abcdef")
	s.SetSelection(text.Pos(0, 2), text.Pos(0, 4), OriginLocal)

	if err := s.ApplyEdits([]text.Edit{text.NewInsert(2, "XX")}, "remote"); err != nil {
		t.Fatalf("ApplyEdits: %v", err)
	}
	anchor, head := s.Selection()
	if anchor != text.Pos(0, 2) {
		t.Errorf("expected anchor (0:2), got %v", anchor)
	}
	if head != text.Pos(0, 6) {
		t.Errorf("expected head (0:6), got %v", head)
	}
}

func TestApplyEditsOutOfRange(t *testing.T) {
	s := New("abc")
	err := s.ApplyEdits([]text.Edit{text.NewInsert(1, "x"), text.NewDelete(3, 9)}, "remote")
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if s.Value() != "abc" {
		t.Errorf("failed batch should not apply, got %q", s.Value())
	}
}

func TestEventOrder(t *testing.T) {
	s := New("abc")
	s.SetCursor(text.Pos(0, 3), OriginLocal)

	var got []string
	s.OnContentChange(func(c ContentChange) { got = append(got, "content:"+c.Origin) })
	s.OnCursorChange(func(c CursorChange) { got = append(got, "cursor:"+c.Origin) })

	if err := s.ApplyEdits([]text.Edit{text.NewInsert(0, "x")}, "remote"); err != nil {
		t.Fatal(err)
	}
	if err := s.Type("y"); err != nil {
		t.Fatal(err)
	}

	want := []string{"content:remote", "cursor:rebase", "content:local", "cursor:local"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New("")
	calls := 0
	off := s.OnContentChange(func(ContentChange) { calls++ })

	_ = s.Type("a")
	off()
	off()
	_ = s.Type("b")

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestUnsubscribeDuringEmit(t *testing.T) {
	s := New("")
	var second int
	var offFirst func()
	offFirst = s.OnContentChange(func(ContentChange) { offFirst() })
	s.OnContentChange(func(ContentChange) { second++ })

	_ = s.Type("a")
	_ = s.Type("b")

	if second != 2 {
		t.Errorf("second listener should run on every change, got %d", second)
	}
}

func TestClaimSuppressesSetValue(t *testing.T) {
	s := New("old")

	if err := s.Claim("binding-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.SetValue("new"); !errors.Is(err, ErrSuppressed) {
		t.Errorf("expected ErrSuppressed, got %v", err)
	}
	if s.Value() != "old" {
		t.Errorf("content should be unchanged, got %q", s.Value())
	}

	// The authority itself may still replace content.
	if err := s.Replace("binding-1", "shared"); err != nil {
		t.Errorf("Replace by owner: %v", err)
	}
	if s.Value() != "shared" {
		t.Errorf("expected shared, got %q", s.Value())
	}

	s.Release("binding-1")
	if err := s.SetValue("new"); err != nil {
		t.Errorf("SetValue after release: %v", err)
	}
	if s.Value() != "new" {
		t.Errorf("expected new, got %q", s.Value())
	}
}

func TestClaimConflict(t *testing.T) {
	s := New("")
	if err := s.Claim("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Claim("a"); err != nil {
		t.Errorf("re-claim by same owner should succeed, got %v", err)
	}
	if err := s.Claim("b"); !errors.Is(err, ErrClaimed) {
		t.Errorf("expected ErrClaimed, got %v", err)
	}

	s.Release("b")
	if s.Owner() != "a" {
		t.Errorf("release by non-owner should not drop claim")
	}
}

func TestSetValueFlush(t *testing.T) {
	s := New("hello")
	var change ContentChange
	s.OnContentChange(func(c ContentChange) { change = c })

	if err := s.SetValue("help"); err != nil {
		t.Fatal(err)
	}
	if !change.Flush || change.Origin != OriginSetValue {
		t.Errorf("unexpected change %+v", change)
	}
	if len(change.Changes) != 1 || change.Changes[0] != text.NewReplace(3, 5, "p") {
		t.Errorf("expected minimal replace, got %v", change.Changes)
	}
}

func TestOverlay(t *testing.T) {
	s := New("")
	var events []*Overlay
	s.OnOverlayChange(func(o *Overlay) { events = append(events, o) })

	o := Overlay{ID: "1", Text: "foo()", Anchor: text.Pos(0, 0)}
	s.ShowOverlay(o)
	s.ShowOverlay(o)

	got, ok := s.Overlay()
	if !ok || got != o {
		t.Errorf("expected overlay %+v, got %+v (%v)", o, got, ok)
	}

	s.HideOverlay()
	s.HideOverlay()

	if _, ok := s.Overlay(); ok {
		t.Error("overlay should be hidden")
	}
	if len(events) != 2 || events[0] == nil || events[1] != nil {
		t.Errorf("expected show then hide, got %v", events)
	}
}
