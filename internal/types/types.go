package types

import (
	"time"
)

// Identity is the authenticated user bound to a connection.
type Identity struct {
	UserId      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type Message struct {
	Id        string    `json:"id"`
	SeqId     int64     `json:"seqId"`
	RoomId    string    `json:"roomId"`
	SenderId  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
