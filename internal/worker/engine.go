package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sudspoint/washcore/internal/config"
	"github.com/sudspoint/washcore/internal/event"
	"github.com/sudspoint/washcore/internal/messaging"
)

// EventHandler processes one decoded domain event.
type EventHandler func(ctx context.Context, ev event.Event) error

// HandlerRegistration binds event types to a handler. An empty Types slice
// subscribes the handler to every event on the bus.
type HandlerRegistration struct {
	Name    string
	Types   []event.Type
	Handler EventHandler
}

func (r HandlerRegistration) matches(t event.Type) bool {
	if len(r.Types) == 0 {
		return true
	}
	for _, candidate := range r.Types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine orchestrates background event consumption. All domain events ride
// a single topic; the engine decodes each envelope once and fans it out to
// every registration subscribed to its type.
type Engine struct {
	client        messaging.Client
	logger        *zap.Logger
	cfg           config.Config
	registrations []HandlerRegistration
	cancel        context.CancelFunc
	wg            *sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) *Engine {
	reg := make([]HandlerRegistration, 0, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Handler == nil {
			continue
		}
		reg = append(reg, r)
	}

	return &Engine{
		client:        p.Client,
		logger:        p.Logger,
		cfg:           p.Config,
		registrations: reg,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

func (e *Engine) start(ctx context.Context) error {
	if !e.cfg.Messaging.Enabled || !e.cfg.Messaging.Workers.Enabled {
		e.logger.Info("worker engine disabled")

		return nil
	}
	if len(e.registrations) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")

		return nil
	}

	concurrency := e.cfg.Messaging.Workers.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg = &sync.WaitGroup{}

	for i := 0; i < concurrency; i++ {
		workerID := i
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx, workerID)
		}()
	}

	e.logger.Info("worker engine started", zap.Int("workers", concurrency))

	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		if e.wg != nil {
			e.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")

		return nil
	}
}

func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			var ev event.Event
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				// Malformed payloads are dropped, not retried forever.
				e.logger.Error("failed to decode event envelope",
					zap.Error(err),
					zap.Int64("offset", msg.Offset),
				)

				return nil
			}

			e.logger.Debug("processing event",
				zap.String("type", string(ev.Type)),
				zap.Int("worker", workerID),
			)

			return e.dispatch(msgCtx, ev)
		})

		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error", zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev event.Event) error {
	var firstErr error
	for _, reg := range e.registrations {
		if !reg.matches(ev.Type) {
			continue
		}
		if err := reg.Handler(ctx, ev); err != nil {
			e.logger.Error("event handler failed",
				zap.String("handler", reg.Name),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
