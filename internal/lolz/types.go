package lolz

import (
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
)

// Message is a chatbox message as the forum REST API and the realtime channel
// encode it.
type Message struct {
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Plain     string `json:"plain_message"`
	HTML      string `json:"message"`
	Date      int64  `json:"message_date"`
	RoomID    int64  `json:"room_id"`
	IsCurator bool   `json:"is_curator"`
}

// Raw converts the wire form into the domain type.
func (m Message) Raw() domain.RawMessage {
	return domain.RawMessage{
		MessageID: m.MessageID,
		UserID:    m.UserID,
		Username:  m.Username,
		Plain:     m.Plain,
		HTML:      m.HTML,
		Date:      time.Unix(m.Date, 0),
		RoomID:    m.RoomID,
		IsCurator: m.IsCurator,
	}
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type createMessageResponse struct {
	Message Message `json:"message"`
}
