package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Message is one chat message as stored under a room path. The JSON field
// names are the stored record layout shared with the mobile clients.
type Message struct {
	From      string `json:"from"`
	Text      string `json:"message"`
	Seen      bool   `json:"seen"`
	Timestamp int64  `json:"time"`
}

// NewMessage builds an outgoing message sent by the given participant.
func NewMessage(from int, text string, timestampMs int64) Message {
	return Message{
		From:      strconv.Itoa(from),
		Text:      text,
		Timestamp: timestampMs,
	}
}

// IsFrom reports whether the message was sent by the participant with the given ID.
func (m Message) IsFrom(id int) bool {
	return m.From == strconv.Itoa(id)
}

// Encode returns the stored record form of the message.
func (m Message) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a stored record. Anything that is not a JSON object is rejected.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, fmt.Errorf("record is not an object: %w", err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("record is null")
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}
