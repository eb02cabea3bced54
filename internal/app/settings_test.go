package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezerv/storefront/internal/settings"
)

func TestSettingsHandler_Get(t *testing.T) {
	h := &settingsHandler{provider: settings.NewStaticProvider(settings.Default())}

	rec := httptest.NewRecorder()
	h.get(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var p settingsPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, "09:00", p.WorkStart)
	assert.Equal(t, "20:00", p.WorkEnd)
	assert.Equal(t, "Europe/Moscow", p.Timezone)
	assert.Equal(t, "1m0s", p.CheckInterval)
	assert.Equal(t, "15m0s", p.PerRecipientInterval)
	assert.False(t, p.AllowOffHours)
}

func TestSettingsHandler_PutUpdates(t *testing.T) {
	provider := settings.NewStaticProvider(settings.Default())
	h := &settingsHandler{provider: provider}

	body := `{
		"work_start": "10:00",
		"work_end": "19:00",
		"timezone": "UTC",
		"check_interval": "30s",
		"repeat_interval": "5m",
		"per_recipient_interval": "10m",
		"allow_off_hours": true
	}`
	rec := httptest.NewRecorder()
	h.put(rec, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	got, err := provider.Get(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	require.NoError(t, err)
	assert.Equal(t, "10:00", got.WorkStart)
	assert.Equal(t, "UTC", got.Timezone)
	assert.Equal(t, 30*time.Second, got.CheckInterval)
	assert.Equal(t, 5*time.Minute, got.RepeatInterval)
	assert.Equal(t, 10*time.Minute, got.PerRecipientInterval)
	assert.True(t, got.AllowOffHours)
}

func TestSettingsHandler_PutRejectsBadJSON(t *testing.T) {
	h := &settingsHandler{provider: settings.NewStaticProvider(settings.Default())}

	rec := httptest.NewRecorder()
	h.put(rec, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsHandler_PutRejectsBadDuration(t *testing.T) {
	h := &settingsHandler{provider: settings.NewStaticProvider(settings.Default())}

	body := `{"work_start":"09:00","work_end":"20:00","timezone":"UTC","check_interval":"soon","repeat_interval":"2m","per_recipient_interval":"15m"}`
	rec := httptest.NewRecorder()
	h.put(rec, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsHandler_PutRejectsInvalidSettings(t *testing.T) {
	provider := settings.NewStaticProvider(settings.Default())
	h := &settingsHandler{provider: provider}

	// 25:00 is not a clock time; validation in the provider must reject it
	// and the previous settings must survive.
	body := `{"work_start":"25:00","work_end":"20:00","timezone":"UTC","check_interval":"1m","repeat_interval":"2m","per_recipient_interval":"15m"}`
	rec := httptest.NewRecorder()
	h.put(rec, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := provider.Get(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), got)
}

func TestSettingsPayload_RoundTrip(t *testing.T) {
	s := settings.Default()
	s.AllowOffHours = true

	back, err := payloadFrom(s).toSettings()
	require.NoError(t, err)
	assert.Equal(t, s, back)
}
