// Package broker synthesizes chat traffic: on a jittered interval it picks
// a random chat, persists a message, and publishes it for session fan-out.
package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"chatsim/internal/bus"
	"chatsim/internal/metrics"
	"chatsim/internal/store"
	"chatsim/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fixed candidate material for synthesized messages.
var (
	senders = []string{
		"Ana", "Bruno", "Carla", "Daniel",
		"Elisa", "Felipe", "Gabriela", "Hugo",
	}
	bodies = []string{
		"did you see this?",
		"on my way",
		"can we move the call to 3pm?",
		"sounds good to me",
		"sending the file in a sec",
		"where are we meeting?",
		"that deadline is tight",
		"just landed",
		"call me when you're free",
		"check the pinned message",
		"ok!",
		"let's sync tomorrow morning",
	}
)

// Broker owns the synthetic message loop. Emission can be paused and
// resumed at runtime without stopping the loop.
type Broker struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	base   time.Duration
	jitter time.Duration

	paused atomic.Bool
	cancel context.CancelFunc
}

// New creates a broker ticking every base plus up to jitter.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, base, jitter time.Duration) *Broker {
	return &Broker{
		db:     db,
		bus:    b,
		logger: logger,
		base:   base,
		jitter: jitter,
	}
}

// Start runs the tick loop until the context ends or Stop is called.
func (b *Broker) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	go b.loop(ctx)
}

// Stop stops the tick loop.
func (b *Broker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Pause suspends emission. The loop keeps its cadence; ticks become no-ops.
func (b *Broker) Pause() {
	b.paused.Store(true)
	b.logger.Info("broker paused")
}

// Resume re-enables emission.
func (b *Broker) Resume() {
	b.paused.Store(false)
	b.logger.Info("broker resumed")
}

// Paused reports whether emission is currently suspended.
func (b *Broker) Paused() bool {
	return b.paused.Load()
}

func (b *Broker) loop(ctx context.Context) {
	timer := time.NewTimer(b.nextInterval())
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if err := b.Tick(ctx); err != nil {
				b.logger.Error("tick failed", zap.Error(err))
			}
			timer.Reset(b.nextInterval())
		case <-ctx.Done():
			return
		}
	}
}

// nextInterval recomputes the jitter on every tick so emission never falls
// into lockstep with client timers.
func (b *Broker) nextInterval() time.Duration {
	d := b.base
	if b.jitter > 0 {
		d += rand.N(b.jitter)
	}
	return d
}

// Tick synthesizes one message: random chat, random sender and body,
// current timestamp. The message is persisted first and broadcast only
// after the write commits; on failure the tick is skipped and the loop
// keeps running. Paused brokers and empty stores tick as no-ops.
func (b *Broker) Tick(ctx context.Context) error {
	if b.Paused() {
		metrics.IncBrokerTick("paused")
		return nil
	}

	chatID, err := b.db.RandomChatID(ctx)
	if errors.Is(err, store.ErrNoChats) {
		metrics.IncBrokerTick("empty")
		b.logger.Debug("no chats to emit into")
		return nil
	}
	if err != nil {
		metrics.IncBrokerTick("error")
		return fmt.Errorf("pick chat: %w", err)
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Sender:    senders[rand.IntN(len(senders))],
		Body:      bodies[rand.IntN(len(bodies))],
		Timestamp: time.Now().UnixMilli(),
	}

	if err := b.db.InsertMessage(ctx, msg); err != nil {
		metrics.IncBrokerTick("error")
		return fmt.Errorf("persist message: %w", err)
	}

	b.bus.Publish(bus.Event{
		Kind:      bus.KindSyncMessage,
		Timestamp: time.Now(),
		Payload:   wire.NewMessage(msg),
	})
	metrics.IncBrokerTick("sent")
	b.logger.Debug("message synthesized",
		zap.String("chat", chatID),
		zap.String("sender", msg.Sender))
	return nil
}
