package engine

import "slices"

// PhaseCommands lists the game actions each phase accepts. Membership
// commands (join, leave) are accepted in every phase and validated by Apply.
var PhaseCommands = map[Phase][]CommandType{
	PhaseToss:         {CmdToss},
	PhaseTossChoice:   {CmdChooseBatBowl},
	PhasePlaying:      {CmdStartRound},
	PhaseCountdown:    {CmdCountdownTick},
	PhaseSelecting:    {CmdSelectNumber, CmdSelectionTimeout},
	PhaseInningsBreak: {CmdNextInnings},
}

func Allows(p Phase, t CommandType) bool {
	if t == CmdJoin || t == CmdLeave {
		return true
	}
	return slices.Contains(PhaseCommands[p], t)
}
