// Package config загружает настройки клиента RCS.
//
// Порядок применения: значения по умолчанию, TOML файл, .env файл,
// переменные окружения. Результат проверяется Validate и далее
// передается по значению как неизменяемый снимок.
package config

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/emiago/sipgo/sip"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_client/pkg/ims/dialog"
)

// Settings снимок настроек клиента
type Settings struct {
	// Идентичность пользователя
	DisplayName string `toml:"display_name" env:"RCS_DISPLAY_NAME"`
	PublicURI   string `toml:"public_uri" env:"RCS_PUBLIC_URI"`
	InstanceID  string `toml:"instance_id" env:"RCS_INSTANCE_ID"`
	Username    string `toml:"username" env:"RCS_USERNAME"`
	Password    string `toml:"password" env:"RCS_PASSWORD"`

	// SIP
	Network              string   `toml:"network" env:"RCS_SIP_NETWORK"`
	ListenAddr           string   `toml:"listen_addr" env:"RCS_SIP_LISTEN_ADDR"`
	ContactHost          string   `toml:"contact_host" env:"RCS_SIP_CONTACT_HOST"`
	ContactPort          int      `toml:"contact_port" env:"RCS_SIP_CONTACT_PORT"`
	ServiceRoute         []string `toml:"service_route" env:"RCS_SIP_SERVICE_ROUTE" envSeparator:","`
	ConferenceFactoryURI string   `toml:"conference_factory_uri" env:"RCS_CONFERENCE_FACTORY_URI"`
	UserAgent            string   `toml:"user_agent" env:"RCS_USER_AGENT"`

	// Таймауты
	RequestTimeout    time.Duration `toml:"request_timeout" env:"RCS_REQUEST_TIMEOUT"`
	InvitationTimeout time.Duration `toml:"invitation_timeout" env:"RCS_INVITATION_TIMEOUT"`

	// Поведение сессий
	ChatAutoAccept     bool `toml:"chat_auto_accept" env:"RCS_CHAT_AUTO_ACCEPT"`
	FtAutoAccept       bool `toml:"ft_auto_accept" env:"RCS_FT_AUTO_ACCEPT"`
	ImReportsActivated bool `toml:"im_reports_activated" env:"RCS_IM_REPORTS_ACTIVATED"`

	// HTTP передача файлов
	FtServerURL      string   `toml:"ft_server_url" env:"RCS_FT_SERVER_URL"`
	FtServerLogin    string   `toml:"ft_server_login" env:"RCS_FT_SERVER_LOGIN"`
	FtServerPassword string   `toml:"ft_server_password" env:"RCS_FT_SERVER_PASSWORD"`
	FtSupportedTypes []string `toml:"ft_supported_types" env:"RCS_FT_SUPPORTED_TYPES" envSeparator:","`
	FtMaxSize        int64    `toml:"ft_max_size" env:"RCS_FT_MAX_SIZE"`
	FtChunkSize      int      `toml:"ft_chunk_size" env:"RCS_FT_CHUNK_SIZE"`
	DownloadDir      string   `toml:"download_dir" env:"RCS_DOWNLOAD_DIR"`

	// История
	RedisAddr     string        `toml:"redis_addr" env:"RCS_REDIS_ADDR"`
	RedisPassword string        `toml:"redis_password" env:"RCS_REDIS_PASSWORD"`
	RedisDB       int           `toml:"redis_db" env:"RCS_REDIS_DB"`
	HistoryTTL    time.Duration `toml:"history_ttl" env:"RCS_HISTORY_TTL"`

	// Наблюдаемость
	MetricsAddr string `toml:"metrics_addr" env:"RCS_METRICS_ADDR"`
	LogLevel    string `toml:"log_level" env:"RCS_LOG_LEVEL"`
	LogFormat   string `toml:"log_format" env:"RCS_LOG_FORMAT"`
}

// Default возвращает настройки по умолчанию
func Default() Settings {
	return Settings{
		Network:            "udp",
		ListenAddr:         "0.0.0.0:5060",
		ContactHost:        "127.0.0.1",
		ContactPort:        5060,
		UserAgent:          "rcs_client",
		RequestTimeout:     30 * time.Second,
		InvitationTimeout:  30 * time.Second,
		ImReportsActivated: true,
		FtSupportedTypes: []string{
			"image/*", "video/*", "audio/*", "text/plain", "text/vcard", "application/pdf",
		},
		FtMaxSize:   10 * 1024 * 1024,
		FtChunkSize: 32 * 1024,
		DownloadDir: os.TempDir(),
		MetricsAddr: ":9090",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load загружает настройки. path может быть пустым.
// Файл .env берется из RCS_ENV_FILE, отсутствие файла .env не ошибка.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &s); err != nil {
			return Settings{}, errors.Wrapf(err, "load config %s", path)
		}
	}

	if err := loadEnvFile(); err != nil {
		return Settings{}, err
	}

	if err := env.Parse(&s); err != nil {
		return Settings{}, errors.Wrap(err, "parse environment")
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func loadEnvFile() error {
	envfile := os.Getenv("RCS_ENV_FILE")
	if envfile == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(err, "load .env")
		}
		return nil
	}
	if err := godotenv.Load(envfile); err != nil {
		return errors.Wrapf(err, "load env file %s", envfile)
	}
	return nil
}

// Validate проверяет согласованность настроек
func (s Settings) Validate() error {
	if s.PublicURI == "" {
		return errors.New("public_uri is required")
	}
	var uri sip.Uri
	if err := sip.ParseUri(s.PublicURI, &uri); err != nil {
		return errors.Wrapf(err, "invalid public_uri %q", s.PublicURI)
	}
	for _, r := range s.ServiceRoute {
		if err := sip.ParseUri(r, &uri); err != nil {
			return errors.Wrapf(err, "invalid service_route entry %q", r)
		}
	}
	if s.ConferenceFactoryURI != "" {
		if err := sip.ParseUri(s.ConferenceFactoryURI, &uri); err != nil {
			return errors.Wrapf(err, "invalid conference_factory_uri %q", s.ConferenceFactoryURI)
		}
	}
	switch s.Network {
	case "udp", "tcp", "ws":
	default:
		return errors.Errorf("unsupported network %q", s.Network)
	}
	if s.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if s.InvitationTimeout <= 0 {
		return errors.New("invitation_timeout must be positive")
	}
	if s.FtChunkSize <= 0 {
		return errors.New("ft_chunk_size must be positive")
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return err
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		return errors.Errorf("unsupported log_format %q", s.LogFormat)
	}
	return nil
}

// Profile строит профиль локального пользователя
func (s Settings) Profile() (*dialog.Profile, error) {
	p := &dialog.Profile{
		DisplayName: dialog.SanitizeDisplayName(s.DisplayName),
		InstanceID:  s.InstanceID,
		UserAgent:   s.UserAgent,
	}
	if err := sip.ParseUri(s.PublicURI, &p.PublicURI); err != nil {
		return nil, errors.Wrapf(err, "invalid public_uri %q", s.PublicURI)
	}
	p.Contact = sip.Uri{
		Scheme: "sip",
		User:   p.PublicURI.User,
		Host:   s.ContactHost,
		Port:   s.ContactPort,
	}
	for _, r := range s.ServiceRoute {
		var uri sip.Uri
		if err := sip.ParseUri(r, &uri); err != nil {
			return nil, errors.Wrapf(err, "invalid service_route entry %q", r)
		}
		p.ServiceRoute = append(p.ServiceRoute, uri)
	}
	return p, nil
}

// FileTypeSupported проверяет MIME тип по списку поддерживаемых (допускаются шаблоны вида image/*)
func (s Settings) FileTypeSupported(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	for _, pattern := range s.FtSupportedTypes {
		if ok, _ := path.Match(strings.ToLower(pattern), mimeType); ok {
			return true
		}
	}
	return false
}

// NewLogger создает slog логгер по уровню и формату из настроек
func (s Settings) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(s.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Errorf("unsupported log_level %q", s)
	}
	return level, nil
}
