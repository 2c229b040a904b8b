// Package config, uygulamanın tüm konfigürasyonunu merkezi olarak yönetir.
//
// Öncelik sırası (sonraki öncekini ezer):
//  1. Varsayılanlar (defaults)
//  2. CONFIG_FILE ile verilen YAML dosyası (opsiyonel)
//  3. Environment variable'lar (.env dosyası da desteklenir)
//
// Aynı Config hem relay server'ı (main.go) hem headless client'ı (cmd/callctl) besler;
// her taraf kendi Validate metodunu çağırır.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config, uygulamanın tüm konfigürasyon değerlerini taşır.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	LiveKit  LiveKitConfig  `yaml:"livekit"`
	Call     CallConfig     `yaml:"call"`
	Email    EmailConfig    `yaml:"email"`
	CORS     CORSConfig     `yaml:"cors"`
	Log      LogConfig      `yaml:"log"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig, HTTP server ayarları.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig, SQLite database ayarları.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite dosya yolu (ör: ./data/mqvicall.db)
}

// JWTConfig, JWT token ayarları. Token'lar dışarıda (auth sunucusu) üretilir;
// burada sadece doğrulama için secret gerekir.
type JWTConfig struct {
	Secret string `yaml:"secret"` // GİZLİ TUTULMALI
}

// LiveKitConfig, LiveKit SFU server ayarları.
type LiveKitConfig struct {
	URL       string        `yaml:"url"` // ör: ws://localhost:7880
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// CallConfig, arama süreleri ve relay limitleri.
type CallConfig struct {
	// RingTimeout, relay'in cevapsız aramayı callTimeout ile kapattığı süre.
	RingTimeout time.Duration `yaml:"ring_timeout"`
	// InviteTimeout, client'ın gelen davete karar beklediği süre.
	InviteTimeout time.Duration `yaml:"invite_timeout"`
	// OutgoingTimeout, client'ın giden aramada cevap beklediği süre.
	OutgoingTimeout time.Duration `yaml:"outgoing_timeout"`
	// InviteLimit / InviteWindow / InviteCooldown: kullanıcı başına davet limiti.
	// Window içinde InviteLimit'ten fazla callUser gelirse Cooldown boyunca reddedilir.
	InviteLimit    int           `yaml:"invite_limit"`
	InviteWindow   time.Duration `yaml:"invite_window"`
	InviteCooldown time.Duration `yaml:"invite_cooldown"`
	// HistoryLimit, GET /api/calls varsayılan sayfa boyutu.
	HistoryLimit int `yaml:"history_limit"`
}

// EmailConfig, cevapsız arama e-postası (Resend). APIKey boşsa gönderim kapalıdır.
type EmailConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`
}

// CORSConfig, relay HTTP API'si için izinli origin'ler.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig, logrus ayarları.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text veya json
}

// ClientConfig, headless client (callctl) ayarları.
type ClientConfig struct {
	SignalingURL string `yaml:"signaling_url"` // ör: ws://localhost:9090/ws
	APIURL       string `yaml:"api_url"`       // ör: http://localhost:9090
	AccessToken  string `yaml:"access_token"`
	UserID       string `yaml:"user_id"`
	DisplayName  string `yaml:"display_name"`
}

// Default, tüm alanları varsayılan değerleriyle döner.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 9090},
		Database: DatabaseConfig{Path: "./data/mqvicall.db"},
		LiveKit: LiveKitConfig{
			URL:      "ws://localhost:7880",
			TokenTTL: 6 * time.Hour,
		},
		Call: CallConfig{
			RingTimeout:     30 * time.Second,
			InviteTimeout:   7 * time.Second,
			OutgoingTimeout: 30 * time.Second,
			InviteLimit:     5,
			InviteWindow:    30 * time.Second,
			InviteCooldown:  time.Minute,
			HistoryLimit:    50,
		},
		Email: EmailConfig{From: "mqvi <calls@mqvi.net>"},
		CORS:  CORSConfig{AllowedOrigins: []string{"*"}},
		Log:   LogConfig{Level: "info", Format: "text"},
		Client: ClientConfig{
			SignalingURL: "ws://localhost:9090/ws",
			APIURL:       "http://localhost:9090",
		},
	}
}

// Load, varsayılanlar + YAML dosyası + environment variable'lardan Config oluşturur.
// .env dosyası varsa önce onu yükler (development kolaylığı için).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile, YAML dosyasını mevcut değerlerin üzerine yazar. Dosyada olmayan
// alanlar olduğu gibi kalır.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv, set edilmiş environment variable'ları uygular.
func (c *Config) applyEnv() error {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Database.Path = getEnv("DATABASE_PATH", c.Database.Path)
	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)
	c.LiveKit.URL = getEnv("LIVEKIT_URL", c.LiveKit.URL)
	c.LiveKit.APIKey = getEnv("LIVEKIT_API_KEY", c.LiveKit.APIKey)
	c.LiveKit.APISecret = getEnv("LIVEKIT_API_SECRET", c.LiveKit.APISecret)
	c.Email.ResendAPIKey = getEnv("RESEND_API_KEY", c.Email.ResendAPIKey)
	c.Email.From = getEnv("EMAIL_FROM", c.Email.From)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Client.SignalingURL = getEnv("CALL_SIGNALING_URL", c.Client.SignalingURL)
	c.Client.APIURL = getEnv("CALL_API_URL", c.Client.APIURL)
	c.Client.AccessToken = getEnv("CALL_ACCESS_TOKEN", c.Client.AccessToken)
	c.Client.UserID = getEnv("CALL_USER_ID", c.Client.UserID)
	c.Client.DisplayName = getEnv("CALL_DISPLAY_NAME", c.Client.DisplayName)

	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.CORS.AllowedOrigins = splitList(v)
	}

	var err error
	if c.Server.Port, err = getEnvInt("SERVER_PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Call.InviteLimit, err = getEnvInt("CALL_INVITE_LIMIT", c.Call.InviteLimit); err != nil {
		return err
	}
	if c.Call.HistoryLimit, err = getEnvInt("CALL_HISTORY_LIMIT", c.Call.HistoryLimit); err != nil {
		return err
	}
	if c.Call.RingTimeout, err = getEnvDuration("CALL_RING_TIMEOUT", c.Call.RingTimeout); err != nil {
		return err
	}
	if c.Call.InviteTimeout, err = getEnvDuration("CALL_INVITE_TIMEOUT", c.Call.InviteTimeout); err != nil {
		return err
	}
	if c.Call.OutgoingTimeout, err = getEnvDuration("CALL_OUTGOING_TIMEOUT", c.Call.OutgoingTimeout); err != nil {
		return err
	}
	if c.LiveKit.TokenTTL, err = getEnvDuration("LIVEKIT_TOKEN_TTL", c.LiveKit.TokenTTL); err != nil {
		return err
	}
	return nil
}

// ValidateServer, relay server'ın çalışması için zorunlu alanları kontrol eder.
func (c *Config) ValidateServer() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
		return fmt.Errorf("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}
	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("invalid call ring timeout: %s", c.Call.RingTimeout)
	}
	return nil
}

// ValidateClient, headless client için zorunlu alanları kontrol eder.
func (c *Config) ValidateClient() error {
	if c.Client.AccessToken == "" {
		return fmt.Errorf("CALL_ACCESS_TOKEN is required")
	}
	if c.Client.UserID == "" {
		return fmt.Errorf("CALL_USER_ID is required")
	}
	if c.Client.SignalingURL == "" || c.Client.APIURL == "" {
		return fmt.Errorf("signaling and API URLs are required")
	}
	return nil
}

// Addr, HTTP server'ın dinleyeceği adresi döner (ör: "0.0.0.0:9090").
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv, environment variable'ı okur, yoksa fallback değeri döner.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
