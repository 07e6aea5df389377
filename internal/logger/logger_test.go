package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"photogallery/internal/models"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("chatty"))
}

func TestNew_AppliesLevel(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.LogLevel = "warn"
	l := New(cfg)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
}
