// Package chat defines the message and subscription types shared by the
// stores, the delivery pipeline and the realtime hub.
package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPayload is returned when a submitted message is missing a
// required field.
var ErrInvalidPayload = errors.New("invalid payload")

// Message is a stored chat message. It is never mutated after creation.
type Message struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Icon   string `json:"icon"`
	Text   string `json:"text"`
	Time   int64  `json:"time"` // Unix ms
}

// Input is the payload a client submits to post a message.
type Input struct {
	Text   string `json:"text"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Icon   string `json:"icon"`
}

// Validate reports ErrInvalidPayload when any required field is empty.
// Whitespace counts as content.
func (in Input) Validate() error {
	for _, v := range []string{in.Text, in.UserID, in.Name, in.Icon} {
		if v == "" {
			return ErrInvalidPayload
		}
	}
	return nil
}

// NewMessage stamps the input with a fresh id and the given time.
func NewMessage(in Input, now time.Time) Message {
	return Message{
		ID:     uuid.NewString(),
		UserID: in.UserID,
		Name:   in.Name,
		Icon:   in.Icon,
		Text:   in.Text,
		Time:   now.UnixMilli(),
	}
}

// Stamp fills a missing id or time on a message received over the realtime
// channel. Fields the sender already set are kept.
func (m Message) Stamp(now time.Time) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Time == 0 {
		m.Time = now.UnixMilli()
	}
	return m
}
