package lobby

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/d-j7code/GOOGLY/internal/archive"
	"github.com/d-j7code/GOOGLY/internal/engine"
	"github.com/d-j7code/GOOGLY/pkg/types"
)

const within = 500 * time.Millisecond

type recordingArchiver struct {
	records chan archive.Record
}

func (a *recordingArchiver) Submit(rec archive.Record) bool {
	a.records <- rec
	return true
}

type harness struct {
	t     *testing.T
	clock *clockwork.FakeClock
	lobby *Lobby
	out   map[string]chan Message
	empty chan string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		clock: clockwork.NewFakeClock(),
		out:   map[string]chan Message{},
		empty: make(chan string, 1),
	}

	cfg := DefaultConfig("ABC123")
	cfg.Clock = h.clock
	cfg.RevealDelay = 0
	cfg.Flip = func() engine.Coin { return engine.CoinHeads }
	cfg.Logger = zaptest.NewLogger(t)
	cfg.OnEmpty = func(code string) { h.empty <- code }
	if mutate != nil {
		mutate(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.lobby = NewLobby(ctx, cfg)
	return h
}

func (h *harness) join(id, name string) types.Game {
	h.t.Helper()
	out := make(chan Message, 32)
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()

	game, err := h.lobby.Join(ctx, id, name, out)
	require.NoError(h.t, err)
	h.out[id] = out
	return game
}

func (h *harness) send(cmd engine.Command) {
	h.t.Helper()
	h.lobby.Inbox() <- FromClient{Cmd: cmd}
}

// advance waits for the room to arm its timer, then moves the clock.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, 1), "no timer armed")
	h.clock.Advance(d)
}

// helper: receive one message with a timeout so tests never hang
func (h *harness) expect(id, msgType string) Message {
	h.t.Helper()
	select {
	case msg, ok := <-h.out[id]:
		require.True(h.t, ok, "outbox of %s closed unexpectedly", id)
		require.Equal(h.t, msgType, msg.Type, "client %s", id)
		return msg
	case <-time.After(within):
		h.t.Fatalf("client %s: timed out waiting for %s", id, msgType)
		return Message{}
	}
}

func (h *harness) expectAll(msgType string) Message {
	h.t.Helper()
	var last Message
	for _, id := range []string{"c0", "c1"} {
		last = h.expect(id, msgType)
	}
	return last
}

func (h *harness) expectNone(id string, d time.Duration) {
	h.t.Helper()
	select {
	case msg, ok := <-h.out[id]:
		if !ok {
			return
		}
		h.t.Fatalf("client %s: expected nothing within %v, got %+v", id, d, msg)
	case <-time.After(d):
	}
}

func (h *harness) view() View {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	v, err := h.lobby.View(ctx)
	require.NoError(h.t, err)
	return v
}

// seat joins both players, wins the toss for c0 and lets c0 choose.
func (h *harness) seat(choice string) {
	h.t.Helper()
	h.join("c0", "Asha")
	h.join("c1", "Ravi")
	h.expectAll(types.GameUpdate)

	h.send(engine.Command{Type: engine.CmdToss, PlayerID: "c0", Choice: "heads"})
	h.expectAll(types.TossWon)

	h.send(engine.Command{Type: engine.CmdChooseBatBowl, PlayerID: "c0", Choice: choice})
	h.expectAll(types.GameUpdate)
}

// openSelection starts a round and runs the countdown to the selection window.
func (h *harness) openSelection() {
	h.t.Helper()
	h.send(engine.Command{Type: engine.CmdStartRound, PlayerID: "c0"})
	for _, n := range []int{3, 2, 1, 0} {
		h.advance(time.Second)
		msg := h.expectAll(types.Countdown)
		require.Equal(h.t, n, msg.Data)
	}
	h.expectAll(types.SelectPhase)
}

func TestLobby_JoinBroadcastsOnlyOnceRoomIsFull(t *testing.T) {
	h := newHarness(t, nil)

	host := h.join("c0", "Asha")
	assert.Equal(t, "waiting", host.Phase)
	assert.Equal(t, "ABC123", host.RoomCode)
	h.expectNone("c0", 50*time.Millisecond)

	h.join("c1", "Ravi")
	for _, id := range []string{"c0", "c1"} {
		game := h.expect(id, types.GameUpdate).Data.(types.Game)
		assert.Equal(t, "toss", game.Phase)
		assert.Len(t, game.Players, 2)
		assert.Nil(t, game.TossWinner)
	}
}

func TestLobby_ThirdPlayerGetsRoomFull(t *testing.T) {
	h := newHarness(t, nil)
	h.join("c0", "Asha")
	h.join("c1", "Ravi")

	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	_, err := h.lobby.Join(ctx, "c2", "Kiran", make(chan Message, 1))
	require.ErrorIs(t, err, engine.ErrRoomFull)
	assert.Equal(t, 2, h.view().NumClients)
}

func TestLobby_TossWinnerChoosesToBat(t *testing.T) {
	h := newHarness(t, nil)
	h.join("c0", "Asha")
	h.join("c1", "Ravi")
	h.expectAll(types.GameUpdate)

	h.send(engine.Command{Type: engine.CmdToss, PlayerID: "c0", Choice: "heads"})
	toss := h.expectAll(types.TossWon).Data.(types.TossWonPayload)
	assert.Equal(t, "heads", toss.Result)
	assert.Equal(t, 0, toss.Winner)
	require.NotNil(t, toss.Game.TossWinner)
	assert.Equal(t, 0, *toss.Game.TossWinner)

	// loser's attempt is silently ignored
	h.send(engine.Command{Type: engine.CmdChooseBatBowl, PlayerID: "c1", Choice: "bat"})
	h.expectNone("c1", 50*time.Millisecond)

	h.send(engine.Command{Type: engine.CmdChooseBatBowl, PlayerID: "c0", Choice: "bat"})
	game := h.expectAll(types.GameUpdate).Data.(types.Game)
	assert.Equal(t, "playing", game.Phase)
	assert.Equal(t, 0, game.CurrentBatsman)
}

func TestLobby_EndToEndDismissalThenSecondInnings(t *testing.T) {
	h := newHarness(t, nil)
	h.seat("bat")
	h.openSelection()

	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 4})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 4})

	res := h.expectAll(types.RoundResult).Data.(types.RoundResultPayload)
	assert.True(t, res.Result.IsOut)
	assert.Equal(t, 0, res.Result.Runs)
	assert.False(t, res.Timeout)
	assert.Equal(t, map[string]int{"c0": 4, "c1": 4}, res.Game.CurrentRound.Selections)

	brk := h.expectAll(types.InningsBreak).Data.(types.Game)
	assert.Equal(t, "innings_break", brk.Phase)
	assert.Equal(t, 1, brk.Innings)

	h.send(engine.Command{Type: engine.CmdNextInnings, PlayerID: "c1"})
	game := h.expectAll(types.GameUpdate).Data.(types.Game)
	assert.Equal(t, "playing", game.Phase)
	assert.Equal(t, 2, game.Innings)
	assert.Equal(t, 1, game.CurrentBatsman)
}

func TestLobby_BothSelectedCancelsTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.seat("bat")
	h.openSelection()

	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 5})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 2})

	res := h.expectAll(types.RoundResult).Data.(types.RoundResultPayload)
	assert.Equal(t, 5, res.Result.Runs)
	h.expectAll(types.GameUpdate)

	// the selection timer is gone; moving the clock resolves nothing
	h.clock.Advance(5 * time.Second)
	h.expectNone("c0", 100*time.Millisecond)

	v := h.view()
	assert.Equal(t, [2]int{5, 0}, v.State.Scores)
	assert.Equal(t, engine.PhasePlaying, v.State.Phase)
}

func TestLobby_TimeoutDefaultsSilentPlayer(t *testing.T) {
	h := newHarness(t, nil)
	h.seat("bat")
	h.openSelection()

	// only the bowler picks; the batsman stays silent
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 3})
	h.advance(4 * time.Second)

	res := h.expectAll(types.RoundResult).Data.(types.RoundResultPayload)
	assert.True(t, res.Timeout)
	assert.False(t, res.Result.IsOut)
	assert.Equal(t, 0, res.Result.BatsmanChoice)
	assert.Equal(t, 0, res.Result.Runs)
	h.expectAll(types.GameUpdate)
}

func TestLobby_SecondSelectionIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.seat("bat")
	h.openSelection()

	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 2})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 6})

	v := h.view()
	assert.Equal(t, 2, v.State.Round.Selections["c0"])
	assert.Equal(t, []string{"c0"}, v.Game.CurrentRound.Selected)
	assert.Empty(t, v.Game.CurrentRound.Selections, "selection values leaked while selecting")

	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 1})
	res := h.expectAll(types.RoundResult).Data.(types.RoundResultPayload)
	assert.Equal(t, 2, res.Result.BatsmanChoice)
}

func TestLobby_StaleTimerIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.seat("bat")
	h.openSelection()

	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 1})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 6})
	h.expectAll(types.RoundResult)
	h.expectAll(types.GameUpdate)

	// a selection timeout that fired just before the round resolved
	h.lobby.Inbox() <- timerFired{gen: 0, kind: timerSelection}
	h.expectNone("c0", 100*time.Millisecond)
	assert.Equal(t, [2]int{1, 0}, h.view().State.Scores)
}

func TestLobby_RevealDelayHoldsFollowUp(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RevealDelay = 3 * time.Second })
	h.seat("bowl")
	h.openSelection()

	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 3})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 3})
	h.expectAll(types.RoundResult)
	h.expectNone("c0", 50*time.Millisecond)

	h.advance(3 * time.Second)
	h.expectAll(types.InningsBreak)
}

func TestLobby_MatchFinishedIsSummarizedAndArchived(t *testing.T) {
	arch := &recordingArchiver{records: make(chan archive.Record, 1)}
	h := newHarness(t, func(cfg *Config) { cfg.Archiver = arch })
	h.seat("bat")

	// first innings: c0 scores 6 and is then bowled out
	h.openSelection()
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 6})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 1})
	h.expectAll(types.RoundResult)
	h.expectAll(types.GameUpdate)

	h.openSelection()
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 2})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 2})
	h.expectAll(types.RoundResult)
	h.expectAll(types.InningsBreak)

	h.send(engine.Command{Type: engine.CmdNextInnings, PlayerID: "c0"})
	h.expectAll(types.GameUpdate)

	// second innings: c1 chases 7 in one ball
	h.openSelection()
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 5})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 1})
	res := h.expectAll(types.RoundResult).Data.(types.RoundResultPayload)
	assert.Equal(t, 5, res.Result.Runs)
	assert.False(t, res.Result.TargetAchieved)
	h.expectAll(types.GameUpdate)

	h.openSelection()
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c1", Number: 4})
	h.send(engine.Command{Type: engine.CmdSelectNumber, PlayerID: "c0", Number: 1})
	res = h.expectAll(types.RoundResult).Data.(types.RoundResultPayload)
	assert.True(t, res.Result.TargetAchieved)

	fin := h.expectAll(types.GameFinished).Data.(types.GameFinishedPayload)
	assert.Equal(t, 1, fin.MatchSummary.Winner)
	assert.Equal(t, "Ravi won by chasing the target", fin.MatchSummary.Result)
	assert.Equal(t, 7, fin.MatchSummary.SecondInnings.Target)
	assert.Equal(t, "finished", fin.Game.Phase)

	select {
	case rec := <-arch.records:
		assert.Equal(t, "ABC123", rec.RoomCode)
		assert.Equal(t, [2]int{6, 9}, rec.Scores)
		assert.Equal(t, 0, rec.FirstBatsman)
		assert.Equal(t, 1, rec.Winner)
	case <-time.After(within):
		t.Fatal("finished match was not archived")
	}
}

func TestLobby_DisconnectNotifiesThenEmptiesRoom(t *testing.T) {
	h := newHarness(t, nil)
	h.seat("bat")
	h.send(engine.Command{Type: engine.CmdStartRound, PlayerID: "c0"})

	h.lobby.Inbox() <- Leave{ClientID: "c0"}
	game := h.expect("c1", types.PlayerDisconnected).Data.(types.Game)
	assert.Len(t, game.Players, 1)

	// the countdown keeps its timer, but the tick cannot advance an understaffed room
	h.advance(time.Second)
	h.expectNone("c1", 100*time.Millisecond)

	h.lobby.Inbox() <- Leave{ClientID: "c1"}
	select {
	case code := <-h.empty:
		assert.Equal(t, "ABC123", code)
	case <-time.After(within):
		t.Fatal("OnEmpty not called")
	}

	select {
	case <-h.lobby.Done():
	case <-time.After(within):
		t.Fatal("lobby did not stop")
	}
	_, ok := <-h.out["c1"]
	assert.False(t, ok, "leaving client's outbox should be closed")
}

func TestLobby_DropSlowClient(t *testing.T) {
	h := newHarness(t, nil)
	h.join("c0", "Asha")

	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	slow := make(chan Message) // unbuffered and never read
	_, err := h.lobby.Join(ctx, "c1", "Ravi", slow)
	require.NoError(t, err)

	v := h.view()
	assert.Equal(t, 1, v.NumClients)
	assert.Len(t, v.State.Players, 2, "dropping a client does not remove the player")
}

func TestLobby_ShutdownStopsTimer_NoFire(t *testing.T) {
	var fired atomic.Bool
	h := newHarness(t, func(cfg *Config) {
		cfg.OnEmpty = func(string) { fired.Store(true) }
	})
	h.seat("bat")
	h.send(engine.Command{Type: engine.CmdStartRound, PlayerID: "c0"})

	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.lobby.Inbox() <- Shutdown{}
	<-h.lobby.Done()
	h.clock.Advance(time.Second)

	_, ok := <-h.out["c0"]
	assert.False(t, ok, "outbox should be closed on shutdown")
	assert.False(t, fired.Load(), "shutdown is not an empty room")
}
