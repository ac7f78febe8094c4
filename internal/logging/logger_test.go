package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendreview/trendreview/internal/events"
)

func TestLoggerMirrorsToEventBus(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventLog)

	var buf bytes.Buffer
	logger := NewLogger(&buf, bus)

	logger.Warnf("selection limit of %d reached", 5)

	select {
	case ev := <-ch:
		logEv, ok := ev.(*events.LogEvent)
		require.True(t, ok)
		assert.Equal(t, events.WarnLevel, logEv.Level)
		assert.Equal(t, "selection limit of 5 reached", logEv.Message)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no log event published")
	}
	assert.Contains(t, buf.String(), "selection limit of 5 reached")
}

func TestLoggerSkipsDisabledLevels(t *testing.T) {
	SetGlobalLevel(zerolog.InfoLevel)

	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventLog)

	var buf bytes.Buffer
	logger := NewLogger(&buf, bus)
	logger.Debugf("hidden")

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Empty(t, buf.String())
}

func TestLoggerWithoutBus(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, nil)
	logger.Info().Str("job_id", "abc").Msg("submitted")

	assert.Contains(t, buf.String(), "submitted")
	assert.Contains(t, buf.String(), "abc")
	assert.Nil(t, logger.EventBus())
	assert.Same(t, &buf, logger.Output())
}

func TestSetOutputKeepsMirroring(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventLog)

	logger := NewLogger(&bytes.Buffer{}, bus)
	var second bytes.Buffer
	logger.SetOutput(&second)
	logger.Errorf("status query failed")

	select {
	case ev := <-ch:
		assert.Equal(t, events.ErrorLevel, ev.(*events.LogEvent).Level)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no log event published")
	}
	assert.Contains(t, second.String(), "status query failed")
}
