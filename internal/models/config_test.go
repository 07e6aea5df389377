package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Processing.ThumbWidth)
	assert.Equal(t, 85, cfg.Processing.JPEGQuality)
	assert.Equal(t, 3, cfg.Processing.MaxAttempts)
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server_addr: ":9000"
kafka:
  topic: from-yaml
storage:
  private_bucket: originals-bucket
  presign_ttl: 5m
processing:
  jpeg_quality: 70
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("KAFKA_TOPIC", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, "from-env", cfg.Kafka.Topic)
	assert.Equal(t, "originals-bucket", cfg.Storage.PrivateBucket)
	assert.Equal(t, 5*time.Minute, cfg.Storage.PresignTTL)
	assert.Equal(t, 70, cfg.Processing.JPEGQuality)
	assert.Equal(t, 600, cfg.Processing.ViewHeight)
}

func TestLoadConfig_RejectsBadQuality(t *testing.T) {
	t.Setenv("PROCESSING_JPEG_QUALITY", "0")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestIdentity(t *testing.T) {
	assert.True(t, Identity{}.Anonymous())
	id := Identity{UserID: 7, GroupIDs: []int64{3, 5}}
	assert.False(t, id.Anonymous())
	assert.True(t, id.InAnyGroup([]int64{9, 5}))
	assert.False(t, id.InAnyGroup(nil))
}

func TestStatuses(t *testing.T) {
	assert.True(t, ImageProcessed.Terminal())
	assert.True(t, ImageError.Terminal())
	assert.False(t, ImageProcessing.Terminal())
	assert.Equal(t, "In review", GalleryReview.Display())
}
