package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToml = `
public_uri = "sip:+33600000001@ims.example.com"
display_name = "Alice"
service_route = ["sip:pcscf.ims.example.com;lr"]
chat_auto_accept = true
invitation_timeout = "45s"
ft_supported_types = ["image/*", "application/pdf"]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadLayering(t *testing.T) {
	cfgPath := writeFile(t, "rcs.toml", testToml)
	envPath := writeFile(t, "test.env", "RCS_USER_AGENT=from-dotenv\n")
	t.Setenv("RCS_ENV_FILE", envPath)
	t.Setenv("RCS_REQUEST_TIMEOUT", "5s")
	t.Setenv("RCS_DISPLAY_NAME", "Alice Env")
	t.Cleanup(func() { os.Unsetenv("RCS_USER_AGENT") })

	s, err := Load(cfgPath)
	require.NoError(t, err)

	// Значения из TOML
	assert.Equal(t, "sip:+33600000001@ims.example.com", s.PublicURI)
	assert.True(t, s.ChatAutoAccept)
	assert.Equal(t, 45*time.Second, s.InvitationTimeout)
	// Окружение перекрывает TOML
	assert.Equal(t, "Alice Env", s.DisplayName)
	assert.Equal(t, 5*time.Second, s.RequestTimeout)
	// Значение из .env
	assert.Equal(t, "from-dotenv", s.UserAgent)
	// Значения по умолчанию сохраняются
	assert.Equal(t, "udp", s.Network)
	assert.True(t, s.ImReportsActivated)
	assert.Equal(t, 32*1024, s.FtChunkSize)
}

func TestLoadRequiresPublicURI(t *testing.T) {
	cfgPath := writeFile(t, "rcs.toml", `display_name = "x"`)
	_, err := Load(cfgPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	s := Default()
	s.PublicURI = "sip:alice@example.com"
	require.NoError(t, s.Validate())

	bad := s
	bad.Network = "sctp"
	assert.Error(t, bad.Validate())

	bad = s
	bad.InvitationTimeout = 0
	assert.Error(t, bad.Validate())

	bad = s
	bad.LogLevel = "verbose"
	assert.Error(t, bad.Validate())

	bad = s
	bad.FtChunkSize = 0
	assert.Error(t, bad.Validate())
}

func TestProfile(t *testing.T) {
	s := Default()
	s.PublicURI = "sip:+33600000001@ims.example.com"
	s.DisplayName = "Alice"
	s.ContactHost = "192.0.2.10"
	s.ContactPort = 5070
	s.ServiceRoute = []string{"sip:pcscf.ims.example.com;lr"}

	p, err := s.Profile()
	require.NoError(t, err)
	assert.Equal(t, "+33600000001", p.PublicURI.User)
	assert.Equal(t, "192.0.2.10", p.Contact.Host)
	assert.Equal(t, 5070, p.Contact.Port)
	require.Len(t, p.ServiceRoute, 1)
	assert.Equal(t, "pcscf.ims.example.com", p.ServiceRoute[0].Host)
}

func TestFileTypeSupported(t *testing.T) {
	s := Default()
	assert.True(t, s.FileTypeSupported("image/jpeg"))
	assert.True(t, s.FileTypeSupported("IMAGE/PNG"))
	assert.True(t, s.FileTypeSupported("text/plain; charset=utf-8"))
	assert.False(t, s.FileTypeSupported("application/x-msdownload"))
}

func TestNewLogger(t *testing.T) {
	s := Default()
	s.LogFormat = "json"
	s.LogLevel = "warn"
	var buf bytes.Buffer
	logger := s.NewLogger(&buf)

	logger.Info("скрыто")
	logger.Warn("видно")
	assert.NotContains(t, buf.String(), "скрыто")
	assert.Contains(t, buf.String(), `"msg":"видно"`)
}
