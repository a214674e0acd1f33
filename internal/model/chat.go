package model

import "time"

// Chat room kinds.
const (
	RoomMatch  = "MATCH"
	RoomDirect = "DIRECT"
	RoomGroup  = "GROUP"
)

// ChatRoom groups members and their messages.  MATCH rooms are created with
// a match and follow its roster.
type ChatRoom struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	MatchID   *uint64   `json:"match_id,omitempty"`
	Name      string    `json:"name"`
	CreatedBy uint64    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is one message posted to a room.
type ChatMessage struct {
	ID        uint64    `json:"id"`
	RoomID    uint64    `json:"room_id"`
	SenderID  uint64    `json:"sender_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
