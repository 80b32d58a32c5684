// Package relay is the websocket rendezvous point for collaboration
// rooms. Each connection to /rooms/{room} becomes a peer in that room;
// the relay assigns it an ID, tells it who else is present, replays
// the room backlog of retained frames, and then forwards every frame it
// sends to the other peers.
//
// The relay never decodes frame payloads. Document state lives in the
// peers; the backlog only helps a peer joining an empty or quiet room
// catch up before state-vector sync runs.
//
// With a redis client configured, rooms are shared across relay
// instances: frames and join/leave notices fan out over pub/sub, the
// peer list is a redis set, and the backlog is a capped redis list.
package relay
