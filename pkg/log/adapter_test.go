package log

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiscardEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestNewBadgerLogrusAdapter(t *testing.T) {
	adapter := NewBadgerLogrusAdapter(newDiscardEntry())
	assert.NotNil(t, adapter)
}

func TestBadgerLogrusAdapter_Methods(t *testing.T) {
	adapter := NewBadgerLogrusAdapter(newDiscardEntry())

	assert.NotPanics(t, func() { adapter.Errorf("error %s", "test") })
	assert.NotPanics(t, func() { adapter.Warningf("warning %d", 42) })
	assert.NotPanics(t, func() { adapter.Infof("info %v", true) })
	assert.NotPanics(t, func() { adapter.Debugf("debug") })
}

func TestBadgerLogrusAdapter_InfoIsDemoted(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Infof("compaction finished")
	assert.Empty(t, buf.String())

	adapter.Warningf("value log truncated")
	assert.Contains(t, buf.String(), "value log truncated")
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", FormatJSON, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("source", "gallito").Debug("hello")
	assert.Contains(t, buf.String(), `"source":"gallito"`)

	_, err = New("loud", FormatText, io.Discard)
	assert.Error(t, err)
	_, err = New("info", "xml", io.Discard)
	assert.Error(t, err)
}
