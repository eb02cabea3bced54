package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/rezerv/storefront/internal/settings"
)

// settingsPayload is the admin API shape of settings.Settings. Durations
// travel as strings ("1m", "15m") so operators can read and write them.
type settingsPayload struct {
	WorkStart            string `json:"work_start"`
	WorkEnd              string `json:"work_end"`
	Timezone             string `json:"timezone"`
	CheckInterval        string `json:"check_interval"`
	RepeatInterval       string `json:"repeat_interval"`
	PerRecipientInterval string `json:"per_recipient_interval"`
	AllowOffHours        bool   `json:"allow_off_hours"`
}

func payloadFrom(s settings.Settings) settingsPayload {
	return settingsPayload{
		WorkStart:            s.WorkStart,
		WorkEnd:              s.WorkEnd,
		Timezone:             s.Timezone,
		CheckInterval:        s.CheckInterval.String(),
		RepeatInterval:       s.RepeatInterval.String(),
		PerRecipientInterval: s.PerRecipientInterval.String(),
		AllowOffHours:        s.AllowOffHours,
	}
}

func (p settingsPayload) toSettings() (settings.Settings, error) {
	check, err := time.ParseDuration(p.CheckInterval)
	if err != nil {
		return settings.Settings{}, err
	}
	repeat, err := time.ParseDuration(p.RepeatInterval)
	if err != nil {
		return settings.Settings{}, err
	}
	perRecipient, err := time.ParseDuration(p.PerRecipientInterval)
	if err != nil {
		return settings.Settings{}, err
	}
	return settings.Settings{
		WorkStart:            p.WorkStart,
		WorkEnd:              p.WorkEnd,
		Timezone:             p.Timezone,
		CheckInterval:        check,
		RepeatInterval:       repeat,
		PerRecipientInterval: perRecipient,
		AllowOffHours:        p.AllowOffHours,
	}, nil
}

// settingsHandler exposes the runtime settings over the admin server.
type settingsHandler struct {
	provider settings.Provider
}

func (h *settingsHandler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.provider.Get(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("load settings", zap.Error(err))
		http.Error(w, "failed to load settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payloadFrom(s))
}

func (h *settingsHandler) put(w http.ResponseWriter, r *http.Request) {
	var p settingsPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&p); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	s, err := p.toSettings()
	if err != nil {
		http.Error(w, "invalid duration: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.provider.Set(r.Context(), s); err != nil {
		http.Error(w, "invalid settings: "+err.Error(), http.StatusBadRequest)
		return
	}

	zctx.From(r.Context()).Info("settings updated",
		zap.String("work_start", s.WorkStart),
		zap.String("work_end", s.WorkEnd),
		zap.Duration("check_interval", s.CheckInterval),
		zap.Bool("allow_off_hours", s.AllowOffHours),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payloadFrom(s))
}
