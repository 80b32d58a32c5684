// Package collab implements the collaboration session for one editing
// room: the replicated documents of the room's files, the awareness
// channel carrying each participant's identity and cursor, and the
// transport connection that moves both between peers.
//
// Every transport callback is posted onto the session's event loop, so
// merges, roster updates, and status changes happen in the same serial
// order as local edits. Local document changes are broadcast from
// within the loop turn that produced them.
//
// Sync protocol. Frames are CBOR-encoded and tagged with a kind:
//
//	update      encoded operations, broadcast and retained by the relay
//	sync-req    a state vector; peers reply with what the sender lacks
//	sync-reply  operations addressed to one peer
//	awareness   an awareness update
//
// A session sends sync-req for each open file and its own awareness
// state whenever it (re)connects and whenever a peer joins. Because
// both sides of a new pair do this, they converge without further
// coordination, and anything missed during a disconnect is recovered.
package collab
