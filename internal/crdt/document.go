package crdt

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/katalyst/internal/text"
)

// Event reports a change to the document.
type Event struct {
	// Origin is the caller-supplied tag of the mutation. Local edits
	// carry whatever the editing component passed; merges carry the
	// origin given to Apply.
	Origin string

	// Remote is true when the change came through Apply.
	Remote bool

	// Edits describe the content change in application order, in
	// UTF-16 offsets.
	Edits []text.Edit

	// Ops are the operations integrated by this change.
	Ops []Op
}

type item struct {
	id      ID
	origin  *ID
	right   *ID
	text    string
	width   int
	deleted bool
}

// Document is a replicated text document. It is safe for concurrent
// use; observers run after the internal lock is released, in
// registration order.
type Document struct {
	mu sync.Mutex

	client uint32
	seq    []*item
	items  map[ID]*item
	length int

	sv      StateVector
	log     map[uint32][]Op
	pending map[ID]Op

	obsMu     sync.Mutex
	observers map[int]func(Event)
	obsOrder  []int
	obsNext   int
}

// New creates an empty document for the given client ID. Client IDs
// must be unique among the participants of a room.
func New(client uint32) *Document {
	return &Document{
		client:  client,
		items:   make(map[ID]*item),
		sv:      make(StateVector),
		log:     make(map[uint32][]Op),
		pending: make(map[ID]Op),
	}
}

// ClientID returns the local client ID.
func (d *Document) ClientID() uint32 { return d.client }

// String returns the visible content.
func (d *Document) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	for _, it := range d.seq {
		if !it.deleted {
			b.WriteString(it.text)
		}
	}
	return b.String()
}

// Len returns the visible length in UTF-16 code units.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.length
}

// StateVector returns a copy of the document's state vector.
func (d *Document) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sv.Clone()
}

// Pending returns how many operations are buffered waiting for their
// dependencies.
func (d *Document) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Diff returns the integrated operations not covered by sv, ordered by
// client then clock. Diff(nil) returns the full history.
func (d *Document) Diff(sv StateVector) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	clients := make([]uint32, 0, len(d.log))
	for c := range d.log {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	var out []Op
	for _, c := range clients {
		ops := d.log[c]
		from := sv[c]
		if from < uint64(len(ops)) {
			out = append(out, ops[from:]...)
		}
	}
	return out
}

// Observe registers fn for every change and returns a function that
// removes it.
func (d *Document) Observe(fn func(Event)) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()

	if d.observers == nil {
		d.observers = make(map[int]func(Event))
	}
	id := d.obsNext
	d.obsNext++
	d.observers[id] = fn
	d.obsOrder = append(d.obsOrder, id)

	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		if _, ok := d.observers[id]; !ok {
			return
		}
		delete(d.observers, id)
		for i, o := range d.obsOrder {
			if o == id {
				d.obsOrder = append(d.obsOrder[:i:i], d.obsOrder[i+1:]...)
				break
			}
		}
	}
}

func (d *Document) notify(ev Event) {
	if len(ev.Ops) == 0 {
		return
	}
	d.obsMu.Lock()
	fns := make([]func(Event), 0, len(d.obsOrder))
	for _, id := range d.obsOrder {
		fns = append(fns, d.observers[id])
	}
	d.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Insert inserts s at UTF-16 offset pos and returns the generated
// operations.
func (d *Document) Insert(pos int, s string, origin string) ([]Op, error) {
	d.mu.Lock()
	ops, edits, err := d.localInsert(pos, s)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d.notify(Event{Origin: origin, Edits: edits, Ops: ops})
	return ops, nil
}

// Delete removes length code units starting at pos and returns the
// generated operations.
func (d *Document) Delete(pos, length int, origin string) ([]Op, error) {
	d.mu.Lock()
	ops, edits, err := d.localDelete(pos, length)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d.notify(Event{Origin: origin, Edits: edits, Ops: ops})
	return ops, nil
}

// ApplyEdit applies a surface edit as a delete followed by an insert,
// reported to observers as a single event.
func (d *Document) ApplyEdit(e text.Edit, origin string) ([]Op, error) {
	d.mu.Lock()
	var ops []Op
	var edits []text.Edit
	if !e.Range.IsEmpty() {
		delOps, delEdits, err := d.localDelete(e.Range.Start, e.Range.Len())
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		ops = append(ops, delOps...)
		edits = append(edits, delEdits...)
	}
	if e.NewText != "" {
		insOps, insEdits, err := d.localInsert(e.Range.Start, e.NewText)
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		ops = append(ops, insOps...)
		edits = append(edits, insEdits...)
	}
	d.mu.Unlock()

	d.notify(Event{Origin: origin, Edits: edits, Ops: ops})
	return ops, nil
}

// Apply merges remote operations. Operations whose dependencies are
// missing are buffered and integrated as soon as possible; duplicates
// are ignored. A structurally invalid operation rejects the whole batch.
func (d *Document) Apply(ops []Op, origin string) error {
	for _, op := range ops {
		if err := op.validate(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	for _, op := range ops {
		if op.ID.Clock < d.sv[op.ID.Client] {
			continue
		}
		d.pending[op.ID] = op
	}
	applied, edits := d.drainPending()
	d.mu.Unlock()

	d.notify(Event{Origin: origin, Remote: true, Edits: edits, Ops: applied})
	return nil
}

// drainPending integrates buffered operations until no more are ready.
func (d *Document) drainPending() ([]Op, []text.Edit) {
	var applied []Op
	var edits []text.Edit

	for progress := true; progress; {
		progress = false
		for _, op := range d.sortedPending() {
			if !d.ready(op) {
				continue
			}
			delete(d.pending, op.ID)
			if e, ok := d.integrate(op); ok {
				edits = appendEdit(edits, e)
			}
			applied = append(applied, op)
			progress = true
		}
	}
	return applied, edits
}

func (d *Document) sortedPending() []Op {
	ops := make([]Op, 0, len(d.pending))
	for _, op := range d.pending {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].ID.Client != ops[j].ID.Client {
			return ops[i].ID.Client < ops[j].ID.Client
		}
		return ops[i].ID.Clock < ops[j].ID.Clock
	})
	return ops
}

func (d *Document) ready(op Op) bool {
	if op.ID.Clock != d.sv[op.ID.Client] {
		return false
	}
	has := func(id *ID) bool {
		if id == nil {
			return true
		}
		_, ok := d.items[*id]
		return ok
	}
	switch op.Kind {
	case OpInsert:
		return has(op.Origin) && has(op.Right)
	case OpDelete:
		return op.Target != nil && has(op.Target)
	}
	return false
}

func (d *Document) nextID() ID {
	return ID{Client: d.client, Clock: d.sv[d.client]}
}

func (d *Document) localInsert(pos int, s string) ([]Op, []text.Edit, error) {
	if pos < 0 || pos > d.length {
		return nil, nil, fmt.Errorf("%w: insert at %d in length %d", ErrOutOfRange, pos, d.length)
	}
	if s == "" {
		return nil, nil, nil
	}

	idx := d.insertIndex(pos)
	var left, right *ID
	if idx > 0 {
		id := d.seq[idx-1].id
		left = &id
	}
	if idx < len(d.seq) {
		id := d.seq[idx].id
		right = &id
	}

	var ops []Op
	var edits []text.Edit
	for _, r := range s {
		op := Op{Kind: OpInsert, ID: d.nextID(), Origin: left, Right: right, Text: string(r)}
		if e, ok := d.integrate(op); ok {
			edits = appendEdit(edits, e)
		}
		ops = append(ops, op)
		id := op.ID
		left = &id
	}
	return ops, edits, nil
}

func (d *Document) localDelete(pos, length int) ([]Op, []text.Edit, error) {
	if pos < 0 || length < 0 || pos+length > d.length {
		return nil, nil, fmt.Errorf("%w: delete [%d, %d) in length %d", ErrOutOfRange, pos, pos+length, d.length)
	}

	var targets []ID
	off := 0
	for _, it := range d.seq {
		if it.deleted {
			continue
		}
		if off >= pos+length {
			break
		}
		if off >= pos {
			targets = append(targets, it.id)
		}
		off += it.width
	}

	var ops []Op
	var edits []text.Edit
	for _, target := range targets {
		t := target
		op := Op{Kind: OpDelete, ID: d.nextID(), Target: &t}
		if e, ok := d.integrate(op); ok {
			edits = appendEdit(edits, e)
		}
		ops = append(ops, op)
	}
	return ops, edits, nil
}

// insertIndex returns the sequence index at which a rune inserted at
// visible offset pos belongs. Tombstones directly after the preceding
// visible item stay to the right of the insertion.
func (d *Document) insertIndex(pos int) int {
	count := 0
	for i, it := range d.seq {
		if count >= pos {
			return i
		}
		if !it.deleted {
			count += it.width
		}
	}
	return len(d.seq)
}

func (d *Document) indexOf(id ID) int {
	for i, it := range d.seq {
		if it.id == id {
			return i
		}
	}
	return -1
}

func (d *Document) visibleOffset(idx int) int {
	off := 0
	for _, it := range d.seq[:idx] {
		if !it.deleted {
			off += it.width
		}
	}
	return off
}

// integrate applies a ready operation, records it in the log, and
// returns the resulting visible edit. ok is false when the operation
// had no visible effect.
func (d *Document) integrate(op Op) (e text.Edit, ok bool) {
	d.sv[op.ID.Client] = op.ID.Clock + 1
	d.log[op.ID.Client] = append(d.log[op.ID.Client], op)

	switch op.Kind {
	case OpInsert:
		return d.integrateInsert(op), true
	case OpDelete:
		it := d.items[*op.Target]
		if it.deleted {
			return text.Edit{}, false
		}
		off := d.visibleOffset(d.indexOf(it.id))
		it.deleted = true
		d.length -= it.width
		return text.NewDelete(off, off+it.width), true
	}
	return text.Edit{}, false
}

// integrateInsert places a new item between its origins, resolving
// concurrent inserts at the same place.
func (d *Document) integrateInsert(op Op) text.Edit {
	left := -1
	if op.Origin != nil {
		left = d.indexOf(*op.Origin)
	}
	right := len(d.seq)
	if op.Right != nil {
		right = d.indexOf(*op.Right)
	}

	after := left
	conflicting := make(map[ID]bool)
	beforeOrigin := make(map[ID]bool)
	for i := left + 1; i < right; i++ {
		o := d.seq[i]
		beforeOrigin[o.id] = true
		conflicting[o.id] = true
		if sameID(o.origin, op.Origin) {
			if o.id.Client < op.ID.Client {
				after = i
				clear(conflicting)
			} else if sameID(o.right, op.Right) {
				break
			}
		} else if o.origin != nil && beforeOrigin[*o.origin] {
			if !conflicting[*o.origin] {
				after = i
				clear(conflicting)
			}
		} else {
			break
		}
	}

	r, _ := decodeRune(op.Text)
	it := &item{
		id:     op.ID,
		origin: op.Origin,
		right:  op.Right,
		text:   op.Text,
		width:  text.RuneWidth(r),
	}
	idx := after + 1
	d.seq = append(d.seq, nil)
	copy(d.seq[idx+1:], d.seq[idx:])
	d.seq[idx] = it
	d.items[it.id] = it
	d.length += it.width

	off := d.visibleOffset(idx)
	return text.NewInsert(off, op.Text)
}

// appendEdit adds e to edits, extending the previous edit when e
// continues it.
func appendEdit(edits []text.Edit, e text.Edit) []text.Edit {
	if n := len(edits); n > 0 {
		last := &edits[n-1]
		switch {
		case last.IsInsert() && e.IsInsert() && e.Range.Start == last.Range.Start+text.Len(last.NewText):
			last.NewText += e.NewText
			return edits
		case last.IsDelete() && e.IsDelete() && e.Range.Start == last.Range.Start:
			last.Range.End += e.Range.Len()
			return edits
		}
	}
	return append(edits, e)
}
