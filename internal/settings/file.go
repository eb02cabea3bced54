package settings

import (
	"context"
	"io/fs"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FileProvider keeps settings in a YAML file and watches it for edits, so
// operators can retune the dispatcher with a text editor or via Set. The
// last good snapshot is served even while the file is mid-rewrite or broken.
type FileProvider struct {
	v  *viper.Viper
	lg *zap.Logger

	mu      sync.RWMutex
	current Settings
}

// NewFileProvider loads (or creates with defaults) the settings file at path
// and starts watching it for changes.
func NewFileProvider(path string, lg *zap.Logger) (*FileProvider, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "read settings file %s", path)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, errors.Wrapf(err, "create settings file %s", path)
		}
	}

	p := &FileProvider{v: v, lg: lg}

	s, err := p.load()
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	p.current = s

	v.OnConfigChange(func(fsnotify.Event) {
		reloaded, err := p.load()
		if err != nil {
			// Keep the previous snapshot; a half-written or invalid file
			// must not take the dispatcher down.
			p.lg.Warn("Settings reload failed, keeping previous", zap.Error(err))
			return
		}

		p.mu.Lock()
		p.current = reloaded
		p.mu.Unlock()

		p.lg.Info("Settings reloaded",
			zap.Duration("check_interval", reloaded.CheckInterval),
			zap.Duration("repeat_interval", reloaded.RepeatInterval),
			zap.Bool("allow_off_hours", reloaded.AllowOffHours),
		)
	})
	v.WatchConfig()

	return p, nil
}

// Get returns the current snapshot.
func (p *FileProvider) Get(_ context.Context) (Settings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, nil
}

// Set validates s, persists it to the settings file and makes it the current
// snapshot immediately, without waiting for the watch event. The write goes
// through a scratch viper: calling Set on the watched instance would shadow
// every later manual edit of the file.
func (p *FileProvider) Set(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "validate settings")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w := viper.New()
	w.SetConfigFile(p.v.ConfigFileUsed())
	w.SetConfigType("yaml")
	applyValues(w, s)
	if err := w.WriteConfig(); err != nil {
		return errors.Wrap(err, "write settings file")
	}
	p.current = s

	return nil
}

// load reads and validates the file contents.
func (p *FileProvider) load() (Settings, error) {
	var s Settings
	if err := p.v.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "unmarshal settings")
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// setDefaults registers every field of s as a default. Defaults rank below
// file contents, so an existing file always wins.
func setDefaults(v *viper.Viper, s Settings) {
	v.SetDefault("work_start", s.WorkStart)
	v.SetDefault("work_end", s.WorkEnd)
	v.SetDefault("timezone", s.Timezone)
	v.SetDefault("check_interval", s.CheckInterval.String())
	v.SetDefault("repeat_interval", s.RepeatInterval.String())
	v.SetDefault("per_recipient_interval", s.PerRecipientInterval.String())
	v.SetDefault("allow_off_hours", s.AllowOffHours)
}

// applyValues pushes every field of s into v ahead of a write. Durations are
// stored as strings so the file stays hand-editable.
func applyValues(v *viper.Viper, s Settings) {
	v.Set("work_start", s.WorkStart)
	v.Set("work_end", s.WorkEnd)
	v.Set("timezone", s.Timezone)
	v.Set("check_interval", s.CheckInterval.String())
	v.Set("repeat_interval", s.RepeatInterval.String())
	v.Set("per_recipient_interval", s.PerRecipientInterval.String())
	v.Set("allow_off_hours", s.AllowOffHours)
}
