package types

import "encoding/json"

// ClientMessage is one inbound frame. Only the fields of the given type are set.
type ClientMessage struct {
	Type        string `json:"type"`
	RoomCode    string `json:"roomCode,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PlayerName  string `json:"playerName,omitempty"` // accepted alias of displayName
	Choice      string `json:"choice,omitempty"`
	Number      int    `json:"number,omitempty"`
}

func (m ClientMessage) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.PlayerName
}

type ServerMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
