package collab

import (
	"sort"

	"github.com/tidwall/gjson"

	"github.com/dshills/katalyst/internal/text"
)

// Participant is one entry of the room roster.
type Participant struct {
	ClientID uint32
	Name     string
	Color    string
	Local    bool

	// File and Cursor are set when the participant shares a cursor.
	File   string
	Cursor *text.Position
}

// roster orders participants by the order they were first seen, with
// client ID breaking ties.
type roster struct {
	seq       uint64
	firstSeen map[uint32]uint64
}

func newRoster() *roster {
	return &roster{firstSeen: make(map[uint32]uint64)}
}

func (r *roster) see(client uint32) {
	if _, ok := r.firstSeen[client]; !ok {
		r.seq++
		r.firstSeen[client] = r.seq
	}
}

func (r *roster) forget(client uint32) {
	delete(r.firstSeen, client)
}

// build derives the participant list from awareness states. Entries
// without a "user" object are skipped.
func (r *roster) build(states map[uint32]string, local uint32) []Participant {
	clients := make([]uint32, 0, len(states))
	for client := range states {
		clients = append(clients, client)
	}
	// Clients first seen together are numbered in ID order.
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	out := make([]Participant, 0, len(states))
	for _, client := range clients {
		state := states[client]
		user := gjson.Get(state, "user")
		if !user.IsObject() {
			continue
		}
		r.see(client)
		p := Participant{
			ClientID: client,
			Name:     DefaultName,
			Color:    DefaultColor,
			Local:    client == local,
		}
		if name := user.Get("name").String(); name != "" {
			p.Name = name
		}
		if color := user.Get("color").String(); color != "" {
			p.Color = color
		}
		if cur := gjson.Get(state, "cursor"); cur.IsObject() {
			pos := text.Pos(int(cur.Get("line").Int()), int(cur.Get("column").Int()))
			p.Cursor = &pos
			p.File = cur.Get("file").String()
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		si, sj := r.firstSeen[out[i].ClientID], r.firstSeen[out[j].ClientID]
		if si != sj {
			return si < sj
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}
