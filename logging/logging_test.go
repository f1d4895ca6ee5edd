package logging_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aipartnerup/apcore-go/logging"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log := logging.New("")
	assert.NotNil(t, log)
	// Should not panic at any level.
	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error(errors.New("boom"), "error message")
}

func TestWithReturnsDerivedLogger(t *testing.T) {
	log := logging.New("debug")
	derived := log.With("component", "registry")
	assert.NotNil(t, derived)
	derived.Info("hello")
}

func TestNoopDiscardsOutput(t *testing.T) {
	log := logging.Noop()
	log.Info("should not be visible")
	log.Error(errors.New("boom"), "also hidden")
}
