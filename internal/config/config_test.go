package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.EqualValues(t, 200, cfg.Admission.DayLimit)
	assert.EqualValues(t, 50, cfg.Admission.NightLimit)
	assert.Equal(t, "shift", cfg.Admission.KeyScheme)
	assert.Equal(t, 48*time.Hour, cfg.Admission.KeyTTL)
	assert.Zero(t, cfg.Admission.ReconcileInterval)
	assert.False(t, cfg.Admission.CountCancelled)
	assert.Equal(t, 5*time.Second, cfg.Admission.CompensationTimeout)
	assert.Equal(t, cfg.Database.WriterDSN, cfg.Database.ReaderDSN)
	assert.Equal(t, "chefeye.orders", cfg.Messaging.Kafka.Topic)
}

func TestNewAdmissionOverrides(t *testing.T) {
	t.Setenv("ORDER_DAY_LIMIT", "3")
	t.Setenv("ORDER_NIGHT_LIMIT", " 1 ")
	t.Setenv("ADMISSION_KEY_SCHEME", "FLAT")
	t.Setenv("ADMISSION_RECONCILE_INTERVAL", "-1m")
	t.Setenv("ADMISSION_COUNT_CANCELLED", "true")
	t.Setenv("ADMISSION_COMPENSATION_TIMEOUT", "0s")

	cfg, err := New()
	require.NoError(t, err)

	assert.EqualValues(t, 3, cfg.Admission.DayLimit)
	assert.EqualValues(t, 1, cfg.Admission.NightLimit)
	assert.Equal(t, "flat", cfg.Admission.KeyScheme)
	assert.Zero(t, cfg.Admission.ReconcileInterval)
	assert.True(t, cfg.Admission.CountCancelled)
	assert.Equal(t, 5*time.Second, cfg.Admission.CompensationTimeout)
}

func TestNewRejectsInvalidAdmission(t *testing.T) {
	t.Run("negative limit", func(t *testing.T) {
		t.Setenv("ORDER_NIGHT_LIMIT", "-5")
		_, err := New()
		assert.ErrorContains(t, err, "must not be negative")
	})
	t.Run("unknown scheme", func(t *testing.T) {
		t.Setenv("ADMISSION_KEY_SCHEME", "hourly")
		_, err := New()
		assert.ErrorContains(t, err, "unsupported admission key scheme")
	})
}

func TestNewDisabledDrivers(t *testing.T) {
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("MESSAGING_ENABLED", "false")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "noop", cfg.Cache.Driver)
	assert.Equal(t, "noop", cfg.Messaging.Driver)
}

func TestNewTraceSampleRate(t *testing.T) {
	t.Setenv("OBS_TRACE_SAMPLE_RATE", "0.25")
	cfg, err := New()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Observability.TraceSampleRate, 1e-9)

	t.Setenv("OBS_TRACE_SAMPLE_RATE", "1.5")
	_, err = New()
	assert.ErrorContains(t, err, "OBS_TRACE_SAMPLE_RATE")
}
