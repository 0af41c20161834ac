package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d-j7code/GOOGLY/internal/engine"
	"github.com/d-j7code/GOOGLY/internal/hub"
	"github.com/d-j7code/GOOGLY/internal/lobby"
	"github.com/d-j7code/GOOGLY/internal/types"
	pub "github.com/d-j7code/GOOGLY/pkg/types"
)

const (
	readLimit   = 4096
	outboxSize  = 32
	sendSize    = 64
	callTimeout = 5 * time.Second
)

type Options struct {
	OriginPatterns []string
	PingInterval   time.Duration // zero disables keepalive pings
	WriteTimeout   time.Duration
	Logger         *zap.Logger
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			opts.Logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(readLimit)

		id := uuid.NewString()
		ctx, cancel := context.WithCancel(r.Context())
		c := &client{
			id:     id,
			hub:    h,
			conn:   conn,
			opts:   opts,
			log:    opts.Logger.With(zap.String("client_id", id)),
			send:   make(chan []byte, sendSize),
			ctx:    ctx,
			cancel: cancel,
		}
		c.serve()
	}
}

// membership is one stay of a client in one room.
type membership struct {
	code    string
	lobby   *lobby.Lobby
	leaving atomic.Bool
}

type client struct {
	id   string
	hub  *hub.Hub
	conn *websocket.Conn
	opts Options
	log  *zap.Logger
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	room *membership // owned by the reader loop
}

func (c *client) serve() {
	c.log.Debug("client connected")
	defer c.conn.CloseNow()
	defer c.cancel()

	c.wg.Add(1)
	go c.writeLoop()
	if c.opts.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}

	c.readLoop()

	c.leaveRoom()
	c.cancel()
	c.wg.Wait()
	c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.log.Debug("client disconnected")
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.sendError(pub.ErrBadMessage)
			continue
		}
		c.dispatch(cm)
	}
}

func (c *client) dispatch(cm types.ClientMessage) {
	switch cm.Type {
	case pub.CreateRoom:
		c.createRoom(cm.Name())
	case pub.JoinRoom:
		c.joinRoom(cm.RoomCode, cm.Name())
	default:
		cmd, ok := toEngineCommand(cm)
		if !ok {
			c.sendError(pub.ErrBadMessage)
			return
		}
		c.forward(cmd)
	}
}

func toEngineCommand(m types.ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case pub.Toss:
		return engine.Command{Type: engine.CmdToss, Choice: m.Choice}, true
	case pub.ChooseBatBowl:
		return engine.Command{Type: engine.CmdChooseBatBowl, Choice: m.Choice}, true
	case pub.StartRound:
		return engine.Command{Type: engine.CmdStartRound}, true
	case pub.SelectNumber:
		return engine.Command{Type: engine.CmdSelectNumber, Number: m.Number}, true
	case pub.NextInnings:
		return engine.Command{Type: engine.CmdNextInnings}, true
	default:
		return engine.Command{}, false
	}
}

func (c *client) forward(cmd engine.Command) {
	if c.room == nil {
		c.log.Debug("command outside a room", zap.String("command", string(cmd.Type)))
		return
	}
	cmd.PlayerID = c.id

	ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
	defer cancel()
	if err := c.room.lobby.Send(ctx, lobby.FromClient{Cmd: cmd}); err != nil {
		c.log.Debug("command not delivered", zap.String("room", c.room.code), zap.Error(err))
	}
}

func (c *client) createRoom(name string) {
	c.leaveRoom()

	ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
	defer cancel()

	outbox := make(chan lobby.Message, outboxSize)
	lb, game, err := c.hub.CreateRoom(ctx, c.id, name, outbox)
	if err != nil {
		c.log.Warn("create room failed", zap.Error(err))
		return
	}

	code := lb.Code()
	c.log.Info("room created", zap.String("room", code))
	c.sendMessage(pub.RoomCreated, pub.RoomCreatedPayload{RoomCode: code, Game: game})
	c.attach(code, lb, outbox)
}

func (c *client) joinRoom(code, name string) {
	c.leaveRoom()

	ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
	defer cancel()

	outbox := make(chan lobby.Message, outboxSize)
	lb, _, err := c.hub.JoinRoom(ctx, code, c.id, name, outbox)
	switch {
	case errors.Is(err, hub.ErrRoomNotFound):
		c.sendError(pub.ErrRoomNotFound)
		return
	case errors.Is(err, engine.ErrRoomFull), errors.Is(err, engine.ErrUnauthorized):
		c.sendError(pub.ErrRoomFull)
		return
	case err != nil:
		c.log.Warn("join room failed", zap.String("room", code), zap.Error(err))
		return
	}

	c.log.Info("joined room", zap.String("room", code))
	c.attach(code, lb, outbox)
}

// attach starts forwarding the room's broadcasts to the socket. If the room
// closes the outbox while the client still belongs to it, the client was
// dropped and the connection is closed.
func (c *client) attach(code string, lb *lobby.Lobby, outbox chan lobby.Message) {
	m := &membership{code: code, lobby: lb}
	c.room = m

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range outbox {
			c.sendMessage(msg.Type, msg.Data)
		}
		if !m.leaving.Load() {
			c.log.Info("removed from room", zap.String("room", code))
			c.conn.Close(websocket.StatusGoingAway, "removed from room")
			c.cancel()
		}
	}()
}

func (c *client) leaveRoom() {
	m := c.room
	if m == nil {
		return
	}
	c.room = nil
	m.leaving.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	err := c.hub.Leave(ctx, m.code, c.id)
	if err != nil && !errors.Is(err, hub.ErrRoomNotFound) && !errors.Is(err, hub.ErrHubClosed) {
		c.log.Warn("leave not delivered", zap.String("room", m.code), zap.Error(err))
	}
}

func (c *client) sendError(text string) {
	c.sendMessage(pub.Error, text)
}

func (c *client) sendMessage(typ string, data any) {
	msg := types.ServerMessage{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			c.log.Error("encode message", zap.String("type", typ), zap.Error(err))
			return
		}
		msg.Data = raw
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode envelope", zap.String("type", typ), zap.Error(err))
		return
	}

	select {
	case c.send <- payload:
	case <-c.ctx.Done():
	}
}

func (c *client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

func (c *client) pingLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.PingInterval)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}
