package engine

import (
	"errors"
	"fmt"
)

var ErrRoomFull = errors.New("room is full")
var ErrWrongPhase = errors.New("command not allowed in current phase")
var ErrUnauthorized = errors.New("player not allowed to perform this action")
var ErrNotEnoughPlayers = errors.New("not enough players")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrAlreadySelected = errors.New("selection already recorded")
var ErrInvalidNumber = errors.New("number out of range")
var ErrInvalidChoice = errors.New("invalid choice")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseWaiting      Phase = "waiting"
	PhaseToss         Phase = "toss"
	PhaseTossChoice   Phase = "toss_choice"
	PhasePlaying      Phase = "playing"
	PhaseCountdown    Phase = "countdown"
	PhaseSelecting    Phase = "selecting"
	PhaseInningsBreak Phase = "innings_break"
	PhaseFinished     Phase = "finished"
)

type Coin string

const (
	CoinHeads Coin = "heads"
	CoinTails Coin = "tails"
)

type Role string

const (
	RoleBat  Role = "bat"
	RoleBowl Role = "bowl"
)

type Player struct {
	ID   string
	Name string
}

// Round is the in-flight selection window. Selections are keyed by player id.
type Round struct {
	Selections map[string]int
	Countdown  int
}

type Rules struct {
	CountdownFrom int
	MinNumber     int
	MaxNumber     int
}

type State struct {
	Players        []Player
	Scores         [2]int
	Phase          Phase
	CurrentBatsman int
	TossWinner     int // -1 until the toss is decided
	Innings        int
	Round          Round
	Rules          Rules
}

type CommandType string

const (
	CmdJoin             CommandType = "Join"
	CmdLeave            CommandType = "Leave"
	CmdToss             CommandType = "Toss"
	CmdChooseBatBowl    CommandType = "ChooseBatBowl"
	CmdStartRound       CommandType = "StartRound"
	CmdCountdownTick    CommandType = "CountdownTick"
	CmdSelectNumber     CommandType = "SelectNumber"
	CmdSelectionTimeout CommandType = "SelectionTimeout"
	CmdNextInnings      CommandType = "NextInnings"
)

/*
	CmdJoin             -> EvtPlayerJoined (second join moves waiting -> toss)
	CmdToss             -> EvtTossWon
	CmdChooseBatBowl    -> EvtBatBowlChosen
	CmdStartRound       -> EvtCountdownStarted
	CmdCountdownTick    -> EvtCountdownTick, plus EvtSelectPhase after the last tick
	CmdSelectNumber     -> EvtSelectionRecorded, plus the resolution events once both have selected
	CmdSelectionTimeout -> EvtRoundResolved -> EvtInningsBreak | EvtGameFinished
	CmdNextInnings      -> EvtInningsStarted

	Timer driven commands (tick, timeout) are issued by the room runtime, never by clients.
*/

type Command struct {
	Type     CommandType
	PlayerID string
	Name     string
	Choice   string
	Number   int
	Flip     Coin // toss outcome, drawn by the caller
}

type EventType string

const (
	EvtPlayerJoined      EventType = "PlayerJoined"
	EvtPlayerLeft        EventType = "PlayerLeft"
	EvtTossWon           EventType = "TossWon"
	EvtBatBowlChosen     EventType = "BatBowlChosen"
	EvtCountdownStarted  EventType = "CountdownStarted"
	EvtCountdownTick     EventType = "CountdownTick"
	EvtSelectPhase       EventType = "SelectPhase"
	EvtSelectionRecorded EventType = "SelectionRecorded"
	EvtRoundResolved     EventType = "RoundResolved"
	EvtInningsBreak      EventType = "InningsBreak"
	EvtInningsStarted    EventType = "InningsStarted"
	EvtGameFinished      EventType = "GameFinished"
)

type Event struct {
	Type     EventType
	PlayerID string
	Player   int
	Count    int
	Flip     Coin
	Result   *RoundResult
	Timeout  bool
}

type RoundResult struct {
	BatsmanChoice  int
	BowlerChoice   int
	IsOut          bool
	Runs           int
	TargetAchieved bool
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	if !Allows(s.Phase, cmd.Type) {
		return nil, s, fmt.Errorf("%s in phase %s: %w", cmd.Type, s.Phase, ErrWrongPhase)
	}

	newState := s.clone()

	switch cmd.Type {
	case CmdJoin:
		if PlayerIndex(s, cmd.PlayerID) >= 0 {
			return nil, s, ErrUnauthorized
		}
		if len(s.Players) >= 2 || s.Phase != PhaseWaiting {
			return nil, s, ErrRoomFull
		}

		newState.Players = append(newState.Players, Player{ID: cmd.PlayerID, Name: cmd.Name})
		events := []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID, Player: len(newState.Players) - 1}}
		if len(newState.Players) == 2 {
			newState.Phase = PhaseToss
		}
		return events, newState, nil

	case CmdLeave:
		idx := PlayerIndex(s, cmd.PlayerID)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}

		// The session keeps its phase; with one player left every game action
		// fails the two-player precondition.
		newState.Players = append(newState.Players[:idx:idx], newState.Players[idx+1:]...)
		return []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID, Player: idx}}, newState, nil

	case CmdToss:
		idx, err := actor(s, cmd.PlayerID)
		if err != nil {
			return nil, s, err
		}
		guess, ok := parseCoin(cmd.Choice)
		if !ok {
			return nil, s, ErrInvalidChoice
		}
		if _, ok := parseCoin(string(cmd.Flip)); !ok {
			return nil, s, ErrInvalidChoice
		}

		winner := 1 - idx
		if guess == cmd.Flip {
			winner = idx
		}
		newState.TossWinner = winner
		newState.Phase = PhaseTossChoice
		return []Event{{Type: EvtTossWon, Player: winner, Flip: cmd.Flip}}, newState, nil

	case CmdChooseBatBowl:
		idx, err := actor(s, cmd.PlayerID)
		if err != nil {
			return nil, s, err
		}
		if idx != s.TossWinner {
			return nil, s, ErrUnauthorized
		}

		switch Role(cmd.Choice) {
		case RoleBat:
			newState.CurrentBatsman = idx
		case RoleBowl:
			newState.CurrentBatsman = 1 - idx
		default:
			return nil, s, ErrInvalidChoice
		}
		newState.Phase = PhasePlaying
		return []Event{{Type: EvtBatBowlChosen, Player: newState.CurrentBatsman}}, newState, nil

	case CmdStartRound:
		if _, err := actor(s, cmd.PlayerID); err != nil {
			return nil, s, err
		}

		newState.Round = Round{Selections: map[string]int{}, Countdown: s.Rules.CountdownFrom}
		newState.Phase = PhaseCountdown
		return []Event{{Type: EvtCountdownStarted, Count: newState.Round.Countdown}}, newState, nil

	case CmdCountdownTick:
		if len(s.Players) != 2 {
			return nil, s, ErrNotEnoughPlayers
		}

		events := []Event{{Type: EvtCountdownTick, Count: s.Round.Countdown}}
		newState.Round.Countdown--
		if newState.Round.Countdown < 0 {
			newState.Phase = PhaseSelecting
			events = append(events, Event{Type: EvtSelectPhase})
		}
		return events, newState, nil

	case CmdSelectNumber:
		idx, err := actor(s, cmd.PlayerID)
		if err != nil {
			return nil, s, err
		}
		if cmd.Number < s.Rules.MinNumber || cmd.Number > s.Rules.MaxNumber {
			return nil, s, ErrInvalidNumber
		}
		if _, done := s.Round.Selections[cmd.PlayerID]; done {
			return nil, s, ErrAlreadySelected
		}

		newState.Round.Selections[cmd.PlayerID] = cmd.Number
		events := []Event{{Type: EvtSelectionRecorded, PlayerID: cmd.PlayerID, Player: idx}}
		if !allSelected(newState) {
			return events, newState, nil
		}
		return append(events, resolve(&newState, false)...), newState, nil

	case CmdSelectionTimeout:
		if len(s.Players) != 2 {
			return nil, s, ErrNotEnoughPlayers
		}

		// Missing selections default to zero.
		for _, p := range newState.Players {
			if _, ok := newState.Round.Selections[p.ID]; !ok {
				newState.Round.Selections[p.ID] = 0
			}
		}
		return resolve(&newState, true), newState, nil

	case CmdNextInnings:
		if _, err := actor(s, cmd.PlayerID); err != nil {
			return nil, s, err
		}

		newState.Innings = 2
		newState.CurrentBatsman = 1 - s.CurrentBatsman
		newState.Phase = PhasePlaying
		return []Event{{Type: EvtInningsStarted, Player: newState.CurrentBatsman}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// ProcessRound scores the current selections and moves the phase on. A
// bowler who did not select (zero) can never take the wicket.
func ProcessRound(s *State) RoundResult {
	batsman := s.Players[s.CurrentBatsman].ID
	bowler := s.Players[1-s.CurrentBatsman].ID

	batsmanChoice := s.Round.Selections[batsman]
	bowlerChoice := s.Round.Selections[bowler]

	res := RoundResult{
		BatsmanChoice: batsmanChoice,
		BowlerChoice:  bowlerChoice,
		Runs:          batsmanChoice,
	}

	if bowlerChoice > 0 && bowlerChoice == batsmanChoice {
		res.IsOut = true
		res.Runs = 0
		if s.Innings == 1 {
			s.Phase = PhaseInningsBreak
		} else {
			s.Phase = PhaseFinished
		}
		return res
	}

	s.Scores[s.CurrentBatsman] += res.Runs
	if s.Innings == 2 && s.Scores[s.CurrentBatsman] > s.Scores[1-s.CurrentBatsman] {
		s.Phase = PhaseFinished
		res.TargetAchieved = true
		return res
	}

	s.Phase = PhasePlaying
	return res
}

func resolve(s *State, timeout bool) []Event {
	res := ProcessRound(s)
	events := []Event{{Type: EvtRoundResolved, Result: &res, Timeout: timeout, Player: s.CurrentBatsman}}

	switch s.Phase {
	case PhaseInningsBreak:
		events = append(events, Event{Type: EvtInningsBreak})
	case PhaseFinished:
		events = append(events, Event{Type: EvtGameFinished})
	}
	return events
}

func actor(s State, playerID string) (int, error) {
	if len(s.Players) != 2 {
		return -1, ErrNotEnoughPlayers
	}
	idx := PlayerIndex(s, playerID)
	if idx < 0 {
		return -1, ErrUnknownPlayer
	}
	return idx, nil
}

func allSelected(s State) bool {
	for _, p := range s.Players {
		if _, ok := s.Round.Selections[p.ID]; !ok {
			return false
		}
	}
	return true
}

func parseCoin(v string) (Coin, bool) {
	switch Coin(v) {
	case CoinHeads, CoinTails:
		return Coin(v), true
	default:
		return "", false
	}
}
