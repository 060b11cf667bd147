package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type EmailConfig struct {
	Transport string // resend | sendgrid | emailjs
	To        string
	From      string

	ResendAPIKey   string
	SendGridAPIKey string

	EmailJSServiceID  string
	EmailJSTemplateID string
	EmailJSPublicKey  string
	EmailJSPrivateKey string
}

type KPIConfig struct {
	Locale   string
	Currency string
	Interval time.Duration
	Policy   string // always | placeholder
}

type AssetConfig struct {
	BaseURL   string
	CacheName string
	// CacheDir keeps caches across restarts; empty means memory only.
	CacheDir string
	Assets   []string
}

type Config struct {
	Port          string
	DatabaseURL   string
	FrontendURL   string
	StaticDir     string
	RemoteDataURL string
	JWTSecret     string
	RateLimit     int

	KPI    KPIConfig
	Email  EmailConfig
	Assets AssetConfig
}

// DefaultAssets is the precache list of the dashboard shell.
var DefaultAssets = []string{
	"./",
	"./index.html",
	"./manifest.webmanifest",
	"https://cdn.sheetjs.com/xlsx-latest/package/dist/xlsx.full.min.js",
	"./icons/icon-192.png",
	"./icons/icon-512.png",
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:3000"),
		StaticDir:     getEnv("STATIC_DIR", "./dist"),
		RemoteDataURL: os.Getenv("REMOTE_DATA_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		KPI: KPIConfig{
			Locale:   getEnv("KPI_LOCALE", "es-CR"),
			Currency: getEnv("KPI_CURRENCY", "CRC"),
			Policy:   getEnv("KPI_RECONCILE_POLICY", "placeholder"),
		},
		Email: EmailConfig{
			Transport:         strings.ToLower(getEnv("EMAIL_TRANSPORT", "resend")),
			To:                os.Getenv("EMAIL_TO"),
			From:              getEnv("FROM_EMAIL", "Sistema Vehicular <sistema@vehicular-app.com>"),
			ResendAPIKey:      os.Getenv("RESEND_API_KEY"),
			SendGridAPIKey:    os.Getenv("SENDGRID_API_KEY"),
			EmailJSServiceID:  os.Getenv("EMAILJS_SERVICE_ID"),
			EmailJSTemplateID: os.Getenv("EMAILJS_TEMPLATE_ID"),
			EmailJSPublicKey:  os.Getenv("EMAILJS_PUBLIC_KEY"),
			EmailJSPrivateKey: os.Getenv("EMAILJS_PRIVATE_KEY"),
		},
		Assets: AssetConfig{
			BaseURL:   os.Getenv("ASSET_BASE_URL"),
			CacheName: getEnv("ASSET_CACHE_NAME", "flota-static-v1"),
			CacheDir:  os.Getenv("ASSET_CACHE_DIR"),
			Assets:    DefaultAssets,
		},
	}

	interval, err := time.ParseDuration(getEnv("KPI_RECONCILE_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid KPI_RECONCILE_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("KPI_RECONCILE_INTERVAL must be positive")
	}
	cfg.KPI.Interval = interval

	switch cfg.KPI.Policy {
	case "always", "placeholder":
	default:
		return nil, fmt.Errorf("invalid KPI_RECONCILE_POLICY %q (want always or placeholder)", cfg.KPI.Policy)
	}

	limit, err := strconv.Atoi(getEnv("RATE_LIMIT", "100"))
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT %q", os.Getenv("RATE_LIMIT"))
	}
	cfg.RateLimit = limit

	if extra := os.Getenv("ASSET_LIST"); extra != "" {
		cfg.Assets.Assets = splitList(extra)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
