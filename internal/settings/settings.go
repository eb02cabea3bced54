// Package settings supplies the operator-tunable dispatcher settings: the
// working-hour window and the notification intervals. Providers are
// hot-reloadable so the dispatcher picks up changes without a restart.
package settings

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Settings is one consistent snapshot of the dispatcher tuning knobs.
type Settings struct {
	// WorkStart and WorkEnd bound the working-hour window, "HH:MM" in the
	// Timezone location. Outside the window no notifications are sent
	// unless AllowOffHours is set.
	WorkStart string `json:"work_start" mapstructure:"work_start"`
	WorkEnd   string `json:"work_end" mapstructure:"work_end"`
	Timezone  string `json:"timezone" mapstructure:"timezone"`

	// CheckInterval is the dispatcher tick period.
	CheckInterval time.Duration `json:"check_interval" mapstructure:"check_interval"`

	// RepeatInterval is how long an order may stay unclaimed after its last
	// notification before a repeat round is sent.
	RepeatInterval time.Duration `json:"repeat_interval" mapstructure:"repeat_interval"`

	// PerRecipientInterval is the minimum spacing between notifications to
	// the same recipient about the same order. It throttles humans, not the
	// scan: the dispatcher may re-check far more often than it re-pings.
	PerRecipientInterval time.Duration `json:"per_recipient_interval" mapstructure:"per_recipient_interval"`

	AllowOffHours bool `json:"allow_off_hours" mapstructure:"allow_off_hours"`
}

// Default returns the settings used when no file exists yet.
func Default() Settings {
	return Settings{
		WorkStart:            "09:00",
		WorkEnd:              "20:00",
		Timezone:             "Europe/Moscow",
		CheckInterval:        time.Minute,
		RepeatInterval:       2 * time.Minute,
		PerRecipientInterval: 15 * time.Minute,
		AllowOffHours:        false,
	}
}

// Validate checks the snapshot for internal consistency.
func (s Settings) Validate() error {
	if _, err := parseClock(s.WorkStart); err != nil {
		return errors.Wrap(err, "work_start")
	}
	if _, err := parseClock(s.WorkEnd); err != nil {
		return errors.Wrap(err, "work_end")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return errors.Wrap(err, "timezone")
	}
	if s.CheckInterval <= 0 {
		return errors.New("check_interval must be positive")
	}
	if s.RepeatInterval <= 0 {
		return errors.New("repeat_interval must be positive")
	}
	if s.PerRecipientInterval < 0 {
		return errors.New("per_recipient_interval must not be negative")
	}
	return nil
}

// WithinWorkingHours reports whether now falls inside the working-hour
// window in the configured timezone. The window is inclusive on both ends.
func (s Settings) WithinWorkingHours(now time.Time) (bool, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return false, errors.Wrap(err, "timezone")
	}
	start, err := parseClock(s.WorkStart)
	if err != nil {
		return false, errors.Wrap(err, "work_start")
	}
	end, err := parseClock(s.WorkEnd)
	if err != nil {
		return false, errors.Wrap(err, "work_end")
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	return minute >= start && minute <= end, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Provider supplies settings snapshots. Get is called on every dispatcher
// tick, so implementations must be cheap and safe for concurrent use.
type Provider interface {
	Get(ctx context.Context) (Settings, error)
	Set(ctx context.Context, s Settings) error
}
