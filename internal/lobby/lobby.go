package lobby

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/d-j7code/GOOGLY/internal/archive"
	"github.com/d-j7code/GOOGLY/internal/engine"
	"github.com/d-j7code/GOOGLY/pkg/types"
)

var ErrClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

// FromClient carries a game action. Cmd.PlayerID must be the sender's id.
type FromClient struct {
	Cmd engine.Command
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ClientID string
	Name     string
	Outbox   chan Message // owned by the lobby once the join succeeds; closed when the client leaves
	Reply    chan JoinResult
}

func (Join) isLobbyMsg() {}

type JoinResult struct {
	Game types.Game
	Err  error
}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Message is one outbound protocol message.
type Message struct {
	Type string
	Data any
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	Game       types.Game
}

// Archiver receives finished matches. Submit must not block.
type Archiver interface {
	Submit(rec archive.Record) bool
}

type Config struct {
	Code             string
	Rules            engine.Rules
	Tick             time.Duration
	SelectionTimeout time.Duration
	RevealDelay      time.Duration
	Clock            clockwork.Clock
	Flip             func() engine.Coin
	Logger           *zap.Logger
	Archiver         Archiver
	OnEmpty          func(code string) // called from the lobby goroutine once the last player has left
}

func DefaultConfig(code string) Config {
	return Config{
		Code:             code,
		Rules:            engine.DefaultRules(),
		Tick:             time.Second,
		SelectionTimeout: 4 * time.Second,
		RevealDelay:      3 * time.Second,
	}
}

func FlipCoin() engine.Coin {
	if rand.IntN(2) == 0 {
		return engine.CoinHeads
	}
	return engine.CoinTails
}

type Lobby struct {
	cfg     Config
	log     *zap.Logger
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Message
	ctx     context.Context
	cancel  context.CancelFunc

	timer    clockwork.Timer
	timerGen uint64
}

func NewLobby(parent context.Context, cfg Config) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Flip == nil {
		cfg.Flip = FlipCoin
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Lobby{
		cfg:     cfg,
		log:     cfg.Logger.With(zap.String("room", cfg.Code)),
		inbox:   make(chan Msg, 64), // Small buffer
		state:   engine.NewState(cfg.Rules),
		clients: make(map[string]chan Message),
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.cfg.Code }

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

// Close stops the lobby without going through the inbox.
func (l *Lobby) Close() { l.cancel() }

// Send delivers m unless the lobby has stopped or ctx is done first.
func (l *Lobby) Send(ctx context.Context, m Msg) error {
	select {
	case l.inbox <- m:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join adds a client and waits for the lobby's answer.
func (l *Lobby) Join(ctx context.Context, clientID, name string, outbox chan Message) (types.Game, error) {
	reply := make(chan JoinResult, 1)
	if err := l.Send(ctx, Join{ClientID: clientID, Name: name, Outbox: outbox, Reply: reply}); err != nil {
		return types.Game{}, err
	}

	select {
	case res := <-reply:
		return res.Game, res.Err
	case <-l.ctx.Done():
		return types.Game{}, ErrClosed
	case <-ctx.Done():
		return types.Game{}, ctx.Err()
	}
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}

	select {
	case v := <-reply:
		return v, nil
	case <-l.ctx.Done():
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.join(msg)

			case Leave:
				if l.leave(msg.ClientID) {
					l.shutdown()
					if l.cfg.OnEmpty != nil {
						l.cfg.OnEmpty(l.cfg.Code)
					}
					return
				}

			case FromClient:
				cmd := msg.Cmd
				if cmd.Type == engine.CmdToss {
					cmd.Flip = l.cfg.Flip()
				}
				l.apply(cmd)

			case timerFired:
				l.fire(msg)

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.state,
					Game:       l.snapshot(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) join(msg Join) {
	_, next, err := engine.Apply(l.state, engine.Command{Type: engine.CmdJoin, PlayerID: msg.ClientID, Name: msg.Name})
	if err != nil {
		msg.Reply <- JoinResult{Err: err}
		return
	}

	l.commit(next)
	l.clients[msg.ClientID] = msg.Outbox
	l.log.Info("player joined",
		zap.String("client_id", msg.ClientID),
		zap.Int("players", len(l.state.Players)))

	game := l.snapshot()
	msg.Reply <- JoinResult{Game: game}

	// The host learns about its own seat from the join reply alone.
	if len(l.state.Players) > 1 {
		l.broadcast(Message{Type: types.GameUpdate, Data: game})
	}
}

// leave reports whether the room is now empty.
func (l *Lobby) leave(clientID string) bool {
	if ch, ok := l.clients[clientID]; ok {
		close(ch)
		delete(l.clients, clientID)
	}

	_, next, err := engine.Apply(l.state, engine.Command{Type: engine.CmdLeave, PlayerID: clientID})
	if err != nil {
		l.log.Debug("leave ignored", zap.String("client_id", clientID), zap.Error(err))
		return false
	}
	l.commit(next)
	l.log.Info("player left",
		zap.String("client_id", clientID),
		zap.Int("players", len(l.state.Players)))

	if len(l.state.Players) == 0 {
		return true
	}
	l.broadcast(Message{Type: types.PlayerDisconnected, Data: l.snapshot()})
	return false
}

// apply runs cmd through the engine. Rejected commands are stale or
// unauthorized and are dropped without feedback.
func (l *Lobby) apply(cmd engine.Command) {
	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		l.log.Debug("command rejected",
			zap.String("command", string(cmd.Type)),
			zap.String("client_id", cmd.PlayerID),
			zap.String("phase", string(l.state.Phase)),
			zap.Error(err))
		return
	}

	l.commit(next)
	l.react(events)
}

func (l *Lobby) commit(next engine.State) {
	if next.Phase != l.state.Phase {
		l.log.Debug("phase changed",
			zap.String("from", string(l.state.Phase)),
			zap.String("to", string(next.Phase)))
	}
	l.state = next
	l.version++
}

func (l *Lobby) react(events []engine.Event) {
	for _, e := range events {
		switch e.Type {
		case engine.EvtTossWon:
			l.broadcast(Message{Type: types.TossWon, Data: types.TossWonPayload{
				Result: string(e.Flip),
				Winner: e.Player,
				Game:   l.snapshot(),
			}})

		case engine.EvtBatBowlChosen, engine.EvtInningsStarted:
			l.broadcast(Message{Type: types.GameUpdate, Data: l.snapshot()})

		case engine.EvtCountdownStarted:
			l.arm(timerTick, l.cfg.Tick)

		case engine.EvtCountdownTick:
			l.broadcast(Message{Type: types.Countdown, Data: e.Count})
			if l.state.Phase == engine.PhaseCountdown {
				l.arm(timerTick, l.cfg.Tick)
			}

		case engine.EvtSelectPhase:
			l.broadcast(Message{Type: types.SelectPhase})
			l.arm(timerSelection, l.cfg.SelectionTimeout)

		case engine.EvtRoundResolved:
			l.stopTimer()
			l.broadcast(Message{Type: types.RoundResult, Data: types.RoundResultPayload{
				Result:  outcome(*e.Result),
				Game:    l.snapshot(),
				Timeout: e.Timeout,
			}})
			l.log.Debug("round resolved",
				zap.Bool("timeout", e.Timeout),
				zap.Bool("out", e.Result.IsOut),
				zap.Int("runs", e.Result.Runs))

		case engine.EvtGameFinished:
			l.archive()
		}
	}

	if engine.ContainsEvent(events, engine.EvtRoundResolved) {
		if l.cfg.RevealDelay > 0 {
			l.arm(timerReveal, l.cfg.RevealDelay)
		} else {
			l.reveal()
		}
	}
}

// reveal sends the follow-up to a round result once clients have had time
// to show it.
func (l *Lobby) reveal() {
	switch l.state.Phase {
	case engine.PhaseFinished:
		summary, err := engine.Summarize(l.state)
		if err != nil {
			l.log.Warn("cannot summarize match", zap.Error(err))
			return
		}
		l.broadcast(Message{Type: types.GameFinished, Data: types.GameFinishedPayload{
			MatchSummary: matchSummary(summary),
			Game:         l.snapshot(),
		}})
	case engine.PhaseInningsBreak:
		l.broadcast(Message{Type: types.InningsBreak, Data: l.snapshot()})
	case engine.PhasePlaying:
		l.broadcast(Message{Type: types.GameUpdate, Data: l.snapshot()})
	}
}

func (l *Lobby) archive() {
	if l.cfg.Archiver == nil {
		return
	}
	summary, err := engine.Summarize(l.state)
	if err != nil {
		l.log.Warn("cannot summarize match", zap.Error(err))
		return
	}

	l.cfg.Archiver.Submit(archive.Record{
		RoomCode:     l.cfg.Code,
		Players:      [2]string{l.state.Players[0].Name, l.state.Players[1].Name},
		Scores:       l.state.Scores,
		FirstBatsman: engine.FirstBatsman(l.state),
		Winner:       summary.Winner,
		Result:       summary.Result,
		FinishedAt:   l.cfg.Clock.Now(),
	})
}

func (l *Lobby) shutdown() {
	l.stopTimer()
	for id, ch := range l.clients {
		close(ch) // Tell client no more messages
		delete(l.clients, id)
	}
	l.cancel()
	l.log.Debug("lobby stopped")
}

func (l *Lobby) broadcast(msg Message) {
	for id, ch := range l.clients {
		select {
		case ch <- msg:
			//ok
		default:
			// Client is slow/full - drop them.
			l.log.Warn("client outbox full, dropping client", zap.String("client_id", id))
			close(ch)
			delete(l.clients, id)
		}
	}
}
