package dispatch

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rezerv/storefront/internal/settings"
)

// Config holds the dispatcher knobs that are fixed at process start. The
// scan and throttle intervals live in settings.Provider instead and are
// re-read on every tick.
type Config struct {
	// SendTimeout bounds a single delivery so one unreachable recipient
	// cannot stall the batch.
	SendTimeout time.Duration
	// MaxConcurrentSends bounds the notification fan-out.
	MaxConcurrentSends int
}

func (c *Config) setDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.MaxConcurrentSends <= 0 {
		c.MaxConcurrentSends = 4
	}
}

// Dispatcher periodically notifies staff of unclaimed orders. It is a single
// cooperative loop: state changes happen between ticks, and the only
// suspension point is the end-of-tick sleep.
type Dispatcher struct {
	cfg      Config
	provider settings.Provider
	orders   OrderSource
	staff    StaffDirectory
	channel  Channel
	sendLog  SendLog

	// now is replaceable in tests.
	now func() time.Time

	// lastGood is the settings fallback for ticks where the provider is
	// unreachable. Only the loop goroutine touches it.
	lastGood settings.Settings
	haveLast bool
}

// New creates a Dispatcher. Run must be called to start the loop.
func New(cfg Config, provider settings.Provider, orders OrderSource, staff StaffDirectory, channel Channel, sendLog SendLog) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		cfg:      cfg,
		provider: provider,
		orders:   orders,
		staff:    staff,
		channel:  channel,
		sendLog:  sendLog,
		now:      time.Now,
	}
}

// Run blocks, ticking until ctx is cancelled. The first tick fires
// immediately; each subsequent sleep uses the check interval current at that
// moment, so operators can retune the cadence without a restart. A failing
// tick is logged and never stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Dispatcher started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info("Dispatcher stopped")
			return nil
		case <-timer.C:
		}

		s := d.currentSettings(ctx)
		d.safeTick(ctx, s)

		timer.Reset(s.CheckInterval)
	}
}

// currentSettings fetches a fresh snapshot, falling back to the last good
// one when the provider fails. Before any snapshot ever loaded, defaults
// keep the loop alive.
func (d *Dispatcher) currentSettings(ctx context.Context) settings.Settings {
	s, err := d.provider.Get(ctx)
	if err != nil {
		zctx.From(ctx).Warn("Settings unavailable, using last known", zap.Error(err))
		if d.haveLast {
			return d.lastGood
		}
		return settings.Default()
	}

	d.lastGood = s
	d.haveLast = true
	return s
}

// safeTick runs one tick, containing panics and errors: the dispatcher must
// never terminate because of a single bad tick.
func (d *Dispatcher) safeTick(ctx context.Context, s settings.Settings) {
	lg := zctx.From(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			lg.Error("Tick panicked",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()

	if err := d.tick(ctx, s); err != nil {
		lg.Error("Tick failed", zap.Error(err))
	}
}

// tick is one scan-and-notify pass.
func (d *Dispatcher) tick(ctx context.Context, s settings.Settings) error {
	lg := zctx.From(ctx)
	now := d.now()

	if !s.AllowOffHours {
		working, err := s.WithinWorkingHours(now)
		if err != nil {
			return err
		}
		if !working {
			lg.Debug("Outside working hours, skipping notifications")
			return nil
		}
	}

	pending, err := d.orders.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	recipients, err := d.staff.ListNotifiable(ctx)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		lg.Warn("No notifiable staff, orders stay unannounced",
			zap.Int("pending", len(pending)))
		return nil
	}

	for _, o := range pending {
		// One failed order must not block the rest of the batch.
		if err := d.notifyOrder(ctx, s, o, recipients, now); err != nil {
			lg.Error("Order notification failed",
				zap.Stringer("order_id", o.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// notifyOrder decides per recipient whether an alert is due and fans the
// sends out with bounded concurrency.
func (d *Dispatcher) notifyOrder(ctx context.Context, s settings.Settings, o PendingOrder, recipients []Recipient, now time.Time) error {
	lastSends, err := d.sendLog.LastSends(ctx, o.ID)
	if err != nil {
		return err
	}

	firstSighting := len(lastSends) == 0
	if !firstSighting {
		// Repeat rounds are gated on the order's most recent notification,
		// whoever received it.
		var orderLast time.Time
		for _, at := range lastSends {
			if at.After(orderLast) {
				orderLast = at
			}
		}
		if now.Sub(orderLast) < s.RepeatInterval {
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrentSends)

	for _, r := range recipients {
		if last, ok := lastSends[r.ID]; ok && now.Sub(last) < s.PerRecipientInterval {
			// This human was pinged about this order recently enough.
			continue
		}

		g.Go(func() error {
			d.sendTo(gctx, o, r, !firstSighting, now)
			return nil
		})
	}

	return g.Wait()
}

// sendTo delivers one alert under its own timeout. Delivery failures are
// logged and swallowed; the recipient is simply skipped this round.
func (d *Dispatcher) sendTo(ctx context.Context, o PendingOrder, r Recipient, repeat bool, now time.Time) {
	lg := zctx.From(ctx)

	msg := Message{
		OrderID: o.ID,
		Text:    formatAlert(o, repeat),
		Repeat:  repeat,
	}
	if r.CanClaim {
		msg.ClaimAction = claimAction(o)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := d.channel.Send(sendCtx, r.ChatAddr, msg); err != nil {
		lg.Warn("Notification delivery failed",
			zap.Stringer("order_id", o.ID),
			zap.Stringer("recipient_id", r.ID),
			zap.Error(err),
		)
		return
	}

	if err := d.sendLog.MarkSent(ctx, o.ID, r.ID, now); err != nil {
		lg.Error("Recording notification failed",
			zap.Stringer("order_id", o.ID),
			zap.Stringer("recipient_id", r.ID),
			zap.Error(err),
		)
	}
}
