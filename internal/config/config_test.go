package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("TALKIE_AUTH_JWT_SECRET", "0123456789abcdef")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	req.NoError(err)
	req.Equal(8080, cfg.Port)
	req.Equal(30*time.Second, cfg.Heartbeat.Interval)
	req.Equal(50, cfg.Chat.HistoryLimit)
	req.True(cfg.Registry.AllowMultipleSessions)
	req.True(cfg.Signaling.ValidateSDP)
	req.False(cfg.Signaling.EchoAudio)
	req.Equal("badger", cfg.Store.Driver)
	req.Empty(cfg.Auth.Issuer)
}

func TestLoadFile_FileAndEnv(t *testing.T) {
	req := require.New(t)
	path := writeConfig(t, `
mode: debug
port: 9000
auth:
  jwt_secret: file-secret-0123456789
heartbeat:
  interval: 5s
chat:
  history_limit: 20
signaling:
  echo_audio: true
`)
	t.Setenv("TALKIE_PORT", "9100")

	cfg, err := LoadFile(path)
	req.NoError(err)
	req.Equal("debug", cfg.Mode)
	req.Equal(9100, cfg.Port)
	req.Equal("file-secret-0123456789", cfg.Auth.JWTSecret)
	req.Equal(5*time.Second, cfg.Heartbeat.Interval)
	req.Equal(20, cfg.Chat.HistoryLimit)
	req.True(cfg.Signaling.EchoAudio)
}

func TestLoadFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing secret": `port: 8080`,
		"bad driver": `
auth:
  jwt_secret: 0123456789abcdef
store:
  driver: sqlite
`,
		"postgres without dsn": `
auth:
  jwt_secret: 0123456789abcdef
store:
  driver: postgres
`,
		"history limit": `
auth:
  jwt_secret: 0123456789abcdef
chat:
  history_limit: 0
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
