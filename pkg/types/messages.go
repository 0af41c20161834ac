package types

// Client -> Server message types.
const (
	CreateRoom    = "createRoom"
	JoinRoom      = "joinRoom"
	Toss          = "toss"
	ChooseBatBowl = "chooseBatBowl"
	StartRound    = "startRound"
	SelectNumber  = "selectNumber"
	NextInnings   = "nextInnings"
)

// Server -> Client message types.
const (
	RoomCreated        = "roomCreated"
	GameUpdate         = "gameUpdate"
	TossWon            = "tossWon"
	Countdown          = "countdown"
	SelectPhase        = "selectPhase"
	RoundResult        = "roundResult"
	InningsBreak       = "inningsBreak"
	GameFinished       = "gameFinished"
	Error              = "error"
	PlayerDisconnected = "playerDisconnected"
)

// User visible error messages. Everything else a client gets wrong is dropped.
const (
	ErrRoomNotFound = "Room not found"
	ErrRoomFull     = "Room is full"
	ErrBadMessage   = "bad message"
)

type RoomCreatedPayload struct {
	RoomCode string `json:"roomCode"`
	Game     Game   `json:"game"`
}

type TossWonPayload struct {
	Result string `json:"result"` // "heads" | "tails"
	Winner int    `json:"winner"`
	Game   Game   `json:"game"`
}

type RoundOutcome struct {
	BatsmanChoice  int  `json:"batsmanChoice"`
	BowlerChoice   int  `json:"bowlerChoice"`
	IsOut          bool `json:"isOut"`
	Runs           int  `json:"runs"`
	TargetAchieved bool `json:"targetAchieved,omitempty"`
}

type RoundResultPayload struct {
	Result  RoundOutcome `json:"result"`
	Game    Game         `json:"game"`
	Timeout bool         `json:"timeout,omitempty"`
}

type InningsSummary struct {
	Batsman string `json:"batsman"`
	Score   int    `json:"score"`
	Target  int    `json:"target,omitempty"`
}

type MatchSummary struct {
	Winner        int            `json:"winner"` // -1 on a tie
	FirstInnings  InningsSummary `json:"firstInnings"`
	SecondInnings InningsSummary `json:"secondInnings"`
	Margin        int            `json:"margin"`
	Result        string         `json:"result"`
}

type GameFinishedPayload struct {
	MatchSummary MatchSummary `json:"matchSummary"`
	Game         Game         `json:"game"`
}
