// Package archive records finished matches. Rooms hand a Record to the
// Worker, which stores it in every configured Sink off the room goroutine.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Record struct {
	RoomCode     string    `json:"roomCode"`
	Players      [2]string `json:"players"`
	Scores       [2]int    `json:"scores"`
	FirstBatsman int       `json:"firstBatsman"`
	Winner       int       `json:"winner"` // -1 on a tie
	Result       string    `json:"result"`
	FinishedAt   time.Time `json:"finishedAt"`
}

type Sink interface {
	Name() string
	Store(ctx context.Context, rec Record) error
}

type Config struct {
	QueueSize    int
	StoreTimeout time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:    64,
		StoreTimeout: 5 * time.Second,
		MaxRetries:   2,
		RetryDelay:   500 * time.Millisecond,
	}
}

type Worker struct {
	queue  chan Record
	sinks  []Sink
	config Config
	logger *zap.Logger
}

func NewWorker(cfg Config, logger *zap.Logger, sinks ...Sink) *Worker {
	return &Worker{
		queue:  make(chan Record, cfg.QueueSize),
		sinks:  sinks,
		config: cfg,
		logger: logger.Named("archive"),
	}
}

// Submit queues rec without blocking. It reports false when the queue is full
// and the record was dropped.
func (w *Worker) Submit(rec Record) bool {
	select {
	case w.queue <- rec:
		return true
	default:
		w.logger.Warn("archive queue full, dropping record", zap.String("room", rec.RoomCode))
		return false
	}
}

// Run stores queued records until ctx is done, then flushes what is left
// with a fresh deadline.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("archive worker started", zap.Int("sinks", len(w.sinks)))

	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.logger.Info("archive worker stopped")
			return nil
		case rec := <-w.queue:
			w.store(ctx, rec)
		}
	}
}

func (w *Worker) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), w.config.StoreTimeout)
	defer cancel()

	for {
		select {
		case rec := <-w.queue:
			w.store(flushCtx, rec)
		default:
			return
		}
	}
}

func (w *Worker) store(ctx context.Context, rec Record) {
	for _, sink := range w.sinks {
		if err := w.storeWithRetry(ctx, sink, rec); err != nil {
			w.logger.Error("failed to archive match",
				zap.String("sink", sink.Name()),
				zap.String("room", rec.RoomCode),
				zap.Error(err))
			continue
		}
		w.logger.Debug("match archived", zap.String("sink", sink.Name()), zap.String("room", rec.RoomCode))
	}
}

func (w *Worker) storeWithRetry(ctx context.Context, sink Sink, rec Record) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		storeCtx, cancel := context.WithTimeout(ctx, w.config.StoreTimeout)
		err := sink.Store(storeCtx, rec)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		w.logger.Warn("archive store failed, retrying",
			zap.String("sink", sink.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
