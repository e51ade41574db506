// Package websocket implements the Controller's half of the /channel
// control-channel conversation: one duplex Conn per connected agent,
// writing types.TaskMessage downstream and reading types.ResponseMessage
// upstream. Grounded on the teacher's websocket/client.go read/write-pump
// mechanics (ping/pong keepalive, single-writer discipline), rebuilt as a
// point-to-point agent channel instead of a topic broadcast hub — the
// broadcast Hub itself had no role here (agentmanager.Manager keys
// connections 1:1 by system_uuid) and was dropped per spec §9's redesign
// note preferring an explicit state over an implicit open/closed bool.
package websocket

import "errors"

// channelState mirrors the agent-side channel client's state machine
// (agent/internal/channel/client.go) so both halves of the conversation
// reason about open/closing/closed the same way.
type channelState int

const (
	stateClosed channelState = iota
	stateOpen
	stateClosing
)

// ErrNotOpen is returned by SendTask when the channel is not in the open
// state, replacing a racy "is this conn still good" bool check.
var ErrNotOpen = errors.New("websocket: channel not open")
