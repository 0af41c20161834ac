package lobby

import (
	"time"

	"go.uber.org/zap"

	"github.com/d-j7code/GOOGLY/internal/engine"
)

type timerKind int

const (
	timerTick timerKind = iota
	timerSelection
	timerReveal
)

func (k timerKind) String() string {
	switch k {
	case timerTick:
		return "tick"
	case timerSelection:
		return "selection"
	default:
		return "reveal"
	}
}

// timerFired is posted by a timer callback. It is acted on only if gen is
// still the current generation, so a cancelled timer that already fired is
// a no-op.
type timerFired struct {
	gen  uint64
	kind timerKind
}

func (timerFired) isLobbyMsg() {}

// A room runs at most one timer at a time: a countdown tick, the selection
// timeout or the result reveal. Arming a new one cancels the old one.
func (l *Lobby) arm(kind timerKind, d time.Duration) {
	l.stopTimer()
	gen := l.timerGen

	l.timer = l.cfg.Clock.AfterFunc(d, func() {
		select {
		case l.inbox <- timerFired{gen: gen, kind: kind}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
}

func (l *Lobby) fire(msg timerFired) {
	if msg.gen != l.timerGen {
		l.log.Debug("dropping stale timer", zap.Stringer("kind", msg.kind))
		return
	}
	l.timer = nil

	switch msg.kind {
	case timerTick:
		l.apply(engine.Command{Type: engine.CmdCountdownTick})
	case timerSelection:
		l.apply(engine.Command{Type: engine.CmdSelectionTimeout})
	case timerReveal:
		l.reveal()
	}
}
