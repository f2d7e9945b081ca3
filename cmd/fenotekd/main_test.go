package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trymwestin/fenotek/internal/config"
	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/event"
	"github.com/trymwestin/fenotek/internal/core/transport/transporttest"
	"github.com/trymwestin/fenotek/internal/core/transport/wire"
)

// useBackend points the FENOTEK_* overlay at a fake backend.
func useBackend(t *testing.T) *transporttest.Server {
	t.Helper()
	srv := transporttest.NewServer(t)
	t.Setenv("FENOTEK_API_BASE", srv.URL)
	t.Setenv("FENOTEK_USERNAME", transporttest.Username)
	t.Setenv("FENOTEK_PASSWORD", transporttest.Password)
	t.Setenv("FENOTEK_LOG_LEVEL", "error")
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		jsonOutput = false
		cfgFile = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAccountConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Fenotek.Username = "owner@example.com"
	cfg.Fenotek.Password = "secret"
	cfg.Fenotek.NotificationPages = 2
	cfg.Refresh.Interval = 45 * time.Second

	ac := accountConfig(cfg, true)
	assert.Equal(t, "https://backend.fenotek.net", ac.Transport.BaseURL)
	assert.Equal(t, "owner@example.com", ac.Transport.Username)
	assert.Equal(t, 2, ac.Transport.NotificationPages)
	assert.Equal(t, 30*time.Second, ac.Transport.Timeout)
	assert.Equal(t, 45*time.Second, ac.Refresh.Interval)
	assert.Equal(t, 120*time.Second, ac.Refresh.MaxInterval)
	assert.True(t, ac.Poll)
}

func TestPrintDevices_Table(t *testing.T) {
	views := []device.View{{
		ID:         "d1",
		Name:       "Front",
		Available:  true,
		SWVersion:  "1.4.2",
		Relays:     []device.Relay{{ID: "r1", Name: "Gate"}},
		EventCount: 3,
		Last: map[device.Kind]event.Event{
			device.KindEvent: {SubCategory: event.SubRing, CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
	}}

	var out bytes.Buffer
	require.NoError(t, printDevices(&out, views, false))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "LAST EVENT")
	assert.Contains(t, lines[2], "Front")
	assert.Contains(t, lines[2], "true")
	assert.Contains(t, lines[2], "ring")
}

func TestDevicesCommand_JSON(t *testing.T) {
	srv := useBackend(t)
	srv.AddDevice("d1", transporttest.Device{
		Profile: wire.Visiophone{Description: "Front"},
		PingOK:  true,
	})

	out, err := execute(t, "devices", "--json")
	require.NoError(t, err)

	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "d1", views[0]["id"])
	assert.Equal(t, true, views[0]["available"])
}

func TestActivateCommand(t *testing.T) {
	srv := useBackend(t)
	srv.AddDevice("d1", transporttest.Device{
		Profile: wire.Visiophone{DryContacts: []wire.DryContact{{ID: "r1", Name: "Gate"}}},
	})

	out, err := execute(t, "activate", "d1", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, "Relay r1 of d1 activated")
	assert.Equal(t, 1, srv.Hits("/visiophones/d1/drycontacts/r1/activate"))

	srv.Update("d1", func(d *transporttest.Device) { d.ActivationError = "Forbidden" })
	_, err = execute(t, "activate", "d1", "r1")
	assert.ErrorContains(t, err, "activation rejected")
}

func TestMissingCredentialsFailValidation(t *testing.T) {
	t.Setenv("FENOTEK_USERNAME", "")
	t.Setenv("FENOTEK_PASSWORD", "")
	_, err := execute(t, "devices")
	assert.ErrorContains(t, err, "fenotek.username")
}
