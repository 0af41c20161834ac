package hub

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/d-j7code/GOOGLY/internal/lobby"
	"github.com/d-j7code/GOOGLY/pkg/types"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrHubClosed    = errors.New("hub closed")
)

// maxCodeAttempts bounds regeneration on code collisions.
const maxCodeAttempts = 16

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Reply chan CreateResult
}

type CreateResult struct {
	Lobby *lobby.Lobby
	Err   error
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveLobby deletes the entry for Code if it still points at Lobby.
type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
}

type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg()  {}
func (GetLobby) isHubMsg()     {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Config struct {
	// Lobby builds the configuration of a new room.
	Lobby  func(code string) lobby.Config
	Codes  func() (string, error)
	Logger *zap.Logger
}

type Hub struct {
	cfg     Config
	log     *zap.Logger
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)

	if cfg.Lobby == nil {
		cfg.Lobby = lobby.DefaultConfig
	}
	if cfg.Codes == nil {
		cfg.Codes = GenerateCode
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &Hub{
		cfg:     cfg,
		log:     cfg.Logger,
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.ctx.Done():
		return zero, ErrHubClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Create registers an empty room under a fresh code.
func (h *Hub) Create(ctx context.Context) (*lobby.Lobby, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateLobby{Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	return res.Lobby, res.Err
}

// Get looks up a live room.
func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, GetLobby{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	lb, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	if lb == nil {
		return nil, ErrRoomNotFound
	}
	return lb, nil
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountLobbies{Reply: reply}); err != nil {
		return 0, err
	}
	return await(ctx, h, reply)
}

// Shutdown stops every room and then the hub itself.
func (h *Hub) Shutdown(ctx context.Context) error {
	if err := h.send(ctx, ShutdownHub{}); err != nil {
		if errors.Is(err, ErrHubClosed) {
			return nil
		}
		return err
	}
	select {
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRoom opens a room with the caller as host (player 0).
func (h *Hub) CreateRoom(ctx context.Context, clientID, name string, outbox chan lobby.Message) (*lobby.Lobby, types.Game, error) {
	lb, err := h.Create(ctx)
	if err != nil {
		return nil, types.Game{}, fmt.Errorf("create room: %w", err)
	}

	game, err := lb.Join(ctx, clientID, name, outbox)
	if err != nil {
		// Nobody ever sat in the room, so it will not report itself empty.
		lb.Close()
		h.remove(lb)
		return nil, types.Game{}, fmt.Errorf("seat host: %w", err)
	}
	return lb, game, nil
}

// JoinRoom seats a second player in an existing room.
func (h *Hub) JoinRoom(ctx context.Context, code, clientID, name string, outbox chan lobby.Message) (*lobby.Lobby, types.Game, error) {
	lb, err := h.Get(ctx, code)
	if err != nil {
		return nil, types.Game{}, err
	}

	game, err := lb.Join(ctx, clientID, name, outbox)
	if errors.Is(err, lobby.ErrClosed) {
		// The room emptied between lookup and join.
		return nil, types.Game{}, ErrRoomNotFound
	}
	if err != nil {
		return nil, types.Game{}, err
	}
	return lb, game, nil
}

// Leave removes a client from its room. The room drops itself from the
// registry once its last player is gone.
func (h *Hub) Leave(ctx context.Context, code, clientID string) error {
	lb, err := h.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := lb.Send(ctx, lobby.Leave{ClientID: clientID}); err != nil && !errors.Is(err, lobby.ErrClosed) {
		return err
	}
	return nil
}

func (h *Hub) remove(lb *lobby.Lobby) {
	select {
	case h.inbox <- RemoveLobby{Code: lb.Code(), Lobby: lb}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				lb, err := h.create()
				msg.Reply <- CreateResult{Lobby: lb, Err: err}

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil && lb == msg.Lobby {
					delete(h.lobbies, msg.Code)
					h.log.Info("room removed", zap.String("room", msg.Code), zap.Int("rooms", len(h.lobbies)))
				}

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create() (*lobby.Lobby, error) {
	for range maxCodeAttempts {
		code, err := h.cfg.Codes()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := h.lobbies[code]; taken {
			h.log.Debug("collision on code, regenerating", zap.String("room", code))
			continue
		}

		cfg := h.cfg.Lobby(code)
		cfg.Code = code
		if cfg.Logger == nil {
			cfg.Logger = h.log
		}

		var lb *lobby.Lobby
		cfg.OnEmpty = func(string) { h.remove(lb) }
		lb = lobby.NewLobby(h.ctx, cfg)

		h.lobbies[code] = lb
		h.log.Info("room created", zap.String("room", code), zap.Int("rooms", len(h.lobbies)))
		return lb, nil
	}
	return nil, errors.New("no free room code")
}

func (h *Hub) shutdown() {
	for code, lb := range h.lobbies {
		lb.Close()
		delete(h.lobbies, code)
	}
	h.cancel()
}
