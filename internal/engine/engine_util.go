package engine

import (
	"errors"
	"fmt"
	"maps"
)

var ErrMatchNotFinished = errors.New("match not finished")

func DefaultRules() Rules {
	return Rules{CountdownFrom: 3, MinNumber: 1, MaxNumber: 6}
}

func NewState(rules Rules) State {
	return State{
		Players:    []Player{},
		Phase:      PhaseWaiting,
		TossWinner: -1,
		Innings:    1,
		Round:      Round{Selections: map[string]int{}},
		Rules:      rules,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func PlayerIndex(s State, playerID string) int {
	for i, p := range s.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (s State) clone() State {
	c := s
	c.Players = append([]Player(nil), s.Players...)
	c.Round.Selections = maps.Clone(s.Round.Selections)
	if c.Round.Selections == nil {
		c.Round.Selections = map[string]int{}
	}
	return c
}

type InningsSummary struct {
	Batsman string
	Score   int
	Target  int
}

type MatchSummary struct {
	Winner        int // player index, -1 on a tie
	FirstInnings  InningsSummary
	SecondInnings InningsSummary
	Margin        int
	Result        string
}

// Winner returns the index with the higher score, or -1 when level.
func Winner(s State) int {
	switch {
	case s.Scores[0] > s.Scores[1]:
		return 0
	case s.Scores[1] > s.Scores[0]:
		return 1
	default:
		return -1
	}
}

// FirstBatsman is the index that batted in the first innings. The batsman is
// swapped exactly once, when the second innings starts.
func FirstBatsman(s State) int {
	if s.Innings == 2 {
		return 1 - s.CurrentBatsman
	}
	return s.CurrentBatsman
}

func Summarize(s State) (MatchSummary, error) {
	if s.Phase != PhaseFinished {
		return MatchSummary{}, ErrMatchNotFinished
	}
	if len(s.Players) != 2 {
		return MatchSummary{}, ErrNotEnoughPlayers
	}

	first := FirstBatsman(s)
	second := 1 - first
	firstScore := s.Scores[first]
	secondScore := s.Scores[second]

	margin := firstScore - secondScore
	if margin < 0 {
		margin = -margin
	}

	sum := MatchSummary{
		Winner:        Winner(s),
		FirstInnings:  InningsSummary{Batsman: s.Players[first].Name, Score: firstScore},
		SecondInnings: InningsSummary{Batsman: s.Players[second].Name, Score: secondScore, Target: firstScore + 1},
		Margin:        margin,
	}

	switch sum.Winner {
	case -1:
		sum.Result = "Match Tied!"
	case first:
		sum.Result = fmt.Sprintf("%s won by %d runs", s.Players[first].Name, margin)
	default:
		sum.Result = fmt.Sprintf("%s won by chasing the target", s.Players[second].Name)
	}
	return sum, nil
}
