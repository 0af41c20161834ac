package lobby

import (
	"maps"
	"slices"

	"github.com/d-j7code/GOOGLY/internal/engine"
	"github.com/d-j7code/GOOGLY/pkg/types"
)

// snapshot is the single place the room state is turned into its wire form.
// Selection values stay hidden while the selection window is open.
func (l *Lobby) snapshot() types.Game {
	return Snapshot(l.cfg.Code, l.version, l.state)
}

func Snapshot(code string, version int, s engine.State) types.Game {
	g := types.Game{
		RoomCode:       code,
		Version:        version,
		Players:        make([]types.Player, 0, len(s.Players)),
		Scores:         s.Scores,
		Phase:          string(s.Phase),
		CurrentBatsman: s.CurrentBatsman,
		Innings:        s.Innings,
		CurrentRound: types.Round{
			Selections: map[string]int{},
			Countdown:  s.Round.Countdown,
		},
	}

	for _, p := range s.Players {
		g.Players = append(g.Players, types.Player{ID: p.ID, Name: p.Name})
	}

	if s.TossWinner >= 0 {
		w := s.TossWinner
		g.TossWinner = &w
	}

	if s.Phase == engine.PhaseSelecting {
		g.CurrentRound.Selected = slices.Sorted(maps.Keys(s.Round.Selections))
	} else {
		maps.Copy(g.CurrentRound.Selections, s.Round.Selections)
	}
	return g
}

func outcome(r engine.RoundResult) types.RoundOutcome {
	return types.RoundOutcome{
		BatsmanChoice:  r.BatsmanChoice,
		BowlerChoice:   r.BowlerChoice,
		IsOut:          r.IsOut,
		Runs:           r.Runs,
		TargetAchieved: r.TargetAchieved,
	}
}

func matchSummary(s engine.MatchSummary) types.MatchSummary {
	return types.MatchSummary{
		Winner: s.Winner,
		FirstInnings: types.InningsSummary{
			Batsman: s.FirstInnings.Batsman,
			Score:   s.FirstInnings.Score,
		},
		SecondInnings: types.InningsSummary{
			Batsman: s.SecondInnings.Batsman,
			Score:   s.SecondInnings.Score,
			Target:  s.SecondInnings.Target,
		},
		Margin: s.Margin,
		Result: s.Result,
	}
}
