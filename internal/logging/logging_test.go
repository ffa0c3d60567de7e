package logging_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"video-effects-backend/internal/logging"
)

func TestNew_LevelAndFormat(t *testing.T) {
	logger := logging.New("debug", "json")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	fallback := logging.New("loud", "text")
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
}

func TestComponent(t *testing.T) {
	entry := logging.Component(nil, "worker")
	assert.Equal(t, "worker", entry.Data["component"])
}
