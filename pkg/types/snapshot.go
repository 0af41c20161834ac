package types

// Game is the room snapshot embedded in most server messages. Clients render
// from it and keep no derived state of their own.
type Game struct {
	RoomCode       string   `json:"roomCode"`
	Version        int      `json:"version"`
	Players        []Player `json:"players"`
	Scores         [2]int   `json:"scores"`
	Phase          string   `json:"phase"`
	CurrentBatsman int      `json:"currentBatsman"`
	TossWinner     *int     `json:"tossWinner"` // null until the toss is decided
	Innings        int      `json:"innings"`
	CurrentRound   Round    `json:"currentRound"`
}

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Round carries selection values only once the selection window is closed;
// while selecting, Selected lists the ids that have already chosen.
type Round struct {
	Selections map[string]int `json:"selections"`
	Selected   []string       `json:"selected,omitempty"`
	Countdown  int            `json:"countdown"`
}
