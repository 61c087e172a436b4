package arenadto

import "encoding/json"

// Inbound action types.
const (
	ActionJoinLobby   = "JOIN_LOBBY"
	ActionInvite      = "INVITE"
	ActionAccept      = "ACCEPT"
	ActionDecline     = "DECLINE"
	ActionMove        = "MOVE"
	ActionResign      = "RESIGN"
	ActionSubscribe   = "SUBSCRIBE"
	ActionUnsubscribe = "UNSUBSCRIBE"
)

// Outbound event types.
const (
	EventMove       = "MOVE"
	EventGameOver   = "GAME_OVER"
	EventInvitation = "INVITATION"
	EventAccepted   = "ACCEPTED"
	EventDeclined   = "DECLINED"
	EventExpired    = "EXPIRED"
	EventLobby      = "LOBBY"
	EventError      = "ERROR"
)

// Inbound is a client frame. Payload is decoded according to Type.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is a server frame delivered to one connection.
type Outbound struct {
	Destination string `json:"destination"`
	Type        string `json:"type"`
	Payload     any    `json:"payload"`
}

type InviteRequest struct {
	ToUsername string `json:"toUsername"`
}

// InvitationReply answers an INVITATION; FromUsername echoes the inviter.
type InvitationReply struct {
	FromUsername string `json:"fromUsername"`
}

type MoveRequest struct {
	GameID     string  `json:"gameId"`
	MoveNumber *int    `json:"moveNumber"`
	FromSquare string  `json:"fromSquare"`
	ToSquare   string  `json:"toSquare"`
	Piece      string  `json:"piece,omitempty"`
	Promotion  *string `json:"promotion,omitempty"`
}

type ResignRequest struct {
	GameID string `json:"gameId"`
}

type SubscribeRequest struct {
	Topic string `json:"topic"`
}
