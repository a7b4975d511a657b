// Package chatroom implements the chat-room extension: a multi-client,
// session-keyed state machine coordinating nickname allocation, rate-limited
// broadcast, a periodic math quiz with scoring, and ordered close-out of
// disconnected sessions via a background housekeeper.
package chatroom

// inbound is the decoded shape of a client text frame. Unknown Type values
// are ignored without reply.
type inbound struct {
	Type     string `json:"Type"`
	NickName string `json:"NickName"`
	Tell     string `json:"Tell"`
}

// Message type tags, client to server.
const (
	typeSetNickName           = "SetNickName"
	typeGetNickNames          = "GetNickNames"
	typeGetAvailableNickNames = "GetAvailableNickNames"
	typeGetUsers              = "GetUsers"
	typeTell                  = "Tell"
)

// Message type tags, server to client.
const (
	typeSetNickNameResult   = "SetNickNameResult"
	typeJoin                = "Join"
	typeLeave               = "Leave"
	typeNickNames           = "NickNames"
	typeAvailableNickNames  = "AvailableNickNames"
	typeUsers               = "Users"
	typeAward               = "Award"
	typePenalty             = "Penalty"
)

// payload is an outbound message under construction. The Time field is
// stamped at send, not at enqueue, so every payload travels through the
// pending queue without one.
type payload map[string]any

// userEntry is one element of a Users response, emitted in session-id order.
type userEntry struct {
	Nickname string `json:"Nickname"`
	Points   int    `json:"Points"`
}

// delivery is one queued outbound message together with the snapshot of
// sessions that should receive it. Snapshots are taken under the room lock
// at enqueue time; the actual sends happen after the lock is released.
type delivery struct {
	targets []*session
	message payload
}
