package xconf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/hotkit/pkg/config/xconf"
)

const yamlConfig = `
redis:
  addr: "127.0.0.1:6379"
  db: 1
seckill:
  stream: "stream.orders"
  group: "g1"
`

func TestNew_WithEmptyPath_ReturnsError(t *testing.T) {
	_, err := xconf.New("")
	assert.ErrorIs(t, err, xconf.ErrEmptyPath)
}

func TestNew_WithUnknownExtension_ReturnsError(t *testing.T) {
	_, err := xconf.New("config.toml")
	assert.ErrorIs(t, err, xconf.ErrUnsupportedFormat)
}

func TestNew_WithYAMLFile_LoadsValues(t *testing.T) {
	// Given
	path := filepath.Join(t.TempDir(), "hotkitd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	// When
	cfg, err := xconf.New(path)

	// Then
	require.NoError(t, err)
	assert.Equal(t, xconf.FormatYAML, cfg.Format())
	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, "stream.orders", cfg.Client().String("seckill.stream"))
}

func TestNewFromBytes_WithInvalidFormat_ReturnsError(t *testing.T) {
	_, err := xconf.NewFromBytes([]byte("{}"), xconf.Format("toml"))
	assert.ErrorIs(t, err, xconf.ErrUnsupportedFormat)
}

func TestNewFromBytes_WithEmptyData_CreatesEmptyConfig(t *testing.T) {
	cfg, err := xconf.NewFromBytes(nil, xconf.FormatYAML)
	require.NoError(t, err)

	var target struct {
		Addr string `koanf:"addr"`
	}
	require.NoError(t, cfg.Unmarshal("redis", &target))
	assert.Empty(t, target.Addr)
}

func TestUnmarshal_WithNestedPath_FillsStruct(t *testing.T) {
	// Given
	cfg, err := xconf.NewFromBytes([]byte(yamlConfig), xconf.FormatYAML)
	require.NoError(t, err)

	// When
	var redis struct {
		Addr string `koanf:"addr"`
		DB   int    `koanf:"db"`
	}
	err = cfg.Unmarshal("redis", &redis)

	// Then
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", redis.Addr)
	assert.Equal(t, 1, redis.DB)
}

func TestUnmarshal_WithMalformedData_ReturnsLoadError(t *testing.T) {
	_, err := xconf.NewFromBytes([]byte("{not json"), xconf.FormatJSON)
	assert.ErrorIs(t, err, xconf.ErrLoadFailed)
}
