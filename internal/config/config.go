package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"geoaudit/internal/workers/jobrunner"
)

type Config struct {
	Env           string
	LogLevel      string
	ListenAddr    string
	PublicBaseURL string

	DatabaseURL    string
	DBMaxConns     int
	MigrateOnStart bool

	CrawlWebhookToken    string
	PaymentWebhookSecret string
	AdminToken           string

	CrawlAgentURL    string
	CrawlAgentAPIKey string
	AnalyzerURL      string
	AnalyzerAPIKey   string
	AnalyzerModel    string
	RendererURL      string
	RendererAPIKey   string
	StripeSecretKey  string
	StripeBaseURL    string

	StoragePath       string
	StorageSigningKey string

	// MaxCrawlRetries of zero turns automatic crawl retries off.
	MaxCrawlRetries  int
	MaxManualRetries int

	SweepInterval    time.Duration
	JobPollInterval  time.Duration
	JobLease         time.Duration
	ReportLinkTTL    time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration

	Queues []jobrunner.QueueConfig
}

// Load reads the environment, after merging .env files when present.
// DATABASE_URL may be empty: the server then runs on in-memory storage.
func Load() (Config, error) {
	_ = godotenv.Load(".env", ".env.local")
	return load()
}

func load() (Config, error) {
	p := &parser{}
	cfg := Config{
		Env:           getenv("APP_ENV", "development"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBMaxConns:     p.intVar("DB_MAX_CONNS", 10),
		MigrateOnStart: p.boolVar("MIGRATE_ON_START", true),

		CrawlWebhookToken:    os.Getenv("CRAWL_WEBHOOK_TOKEN"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),

		CrawlAgentURL:    os.Getenv("CRAWL_AGENT_URL"),
		CrawlAgentAPIKey: os.Getenv("CRAWL_AGENT_API_KEY"),
		AnalyzerURL:      os.Getenv("ANALYZER_URL"),
		AnalyzerAPIKey:   os.Getenv("ANALYZER_API_KEY"),
		AnalyzerModel:    os.Getenv("ANALYZER_MODEL"),
		RendererURL:      os.Getenv("PDF_RENDERER_URL"),
		RendererAPIKey:   os.Getenv("PDF_RENDERER_API_KEY"),
		StripeSecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
		StripeBaseURL:    os.Getenv("STRIPE_BASE_URL"),

		StoragePath:       getenv("STORAGE_PATH", "./data/objects"),
		StorageSigningKey: os.Getenv("STORAGE_SIGNING_KEY"),

		MaxCrawlRetries:  p.intVar("MAX_CRAWL_RETRIES", 2),
		MaxManualRetries: p.intVar("MAX_MANUAL_RETRIES", 3),

		SweepInterval:    p.durationVar("TIMEOUT_SWEEP_INTERVAL", time.Minute),
		JobPollInterval:  p.durationVar("JOB_POLL_INTERVAL", 500*time.Millisecond),
		JobLease:         p.durationVar("JOB_LEASE", 10*time.Minute),
		ReportLinkTTL:    p.durationVar("REPORT_LINK_TTL", 15*time.Minute),
		HTTPReadTimeout:  p.durationVar("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout: p.durationVar("HTTP_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:  p.durationVar("SHUTDOWN_TIMEOUT", 20*time.Second),
	}

	queues := jobrunner.DefaultQueues()
	for i := range queues {
		prefix := queueEnvPrefix(queues[i].Name)
		queues[i].Concurrency = p.intVar(prefix+"_CONCURRENCY", queues[i].Concurrency)
		queues[i].MaxAttempts = p.intVar(prefix+"_ATTEMPTS", queues[i].MaxAttempts)
		if queues[i].Concurrency < 1 || queues[i].MaxAttempts < 1 {
			p.fail(fmt.Errorf("%s: concurrency and attempts must be positive", prefix))
		}
	}
	cfg.Queues = queues

	required := map[string]string{
		"CRAWL_AGENT_URL":     cfg.CrawlAgentURL,
		"ANALYZER_URL":        cfg.AnalyzerURL,
		"PDF_RENDERER_URL":    cfg.RendererURL,
		"STRIPE_SECRET_KEY":   cfg.StripeSecretKey,
		"STORAGE_SIGNING_KEY": cfg.StorageSigningKey,
	}
	if cfg.Env == "production" {
		required["DATABASE_URL"] = cfg.DatabaseURL
		required["CRAWL_WEBHOOK_TOKEN"] = cfg.CrawlWebhookToken
		required["PAYMENT_WEBHOOK_SECRET"] = cfg.PaymentWebhookSecret
		required["ADMIN_TOKEN"] = cfg.AdminToken
	}
	for key, v := range required {
		if strings.TrimSpace(v) == "" {
			p.fail(fmt.Errorf("%s is required", key))
		}
	}
	if cfg.MaxCrawlRetries < 0 || cfg.MaxManualRetries < 0 {
		p.fail(errors.New("retry limits must not be negative"))
	}

	return cfg, p.err()
}

// CrawlCallbackURL is where the crawl agent posts its results.
func (c Config) CrawlCallbackURL() string { return c.PublicBaseURL + "/webhooks/crawl" }

// FilesURL is the public prefix of signed storage links.
func (c Config) FilesURL() string { return c.PublicBaseURL + "/files" }

// queueEnvPrefix maps "audit-crawl-result" to "QUEUE_AUDIT_CRAWL_RESULT".
func queueEnvPrefix(name string) string {
	return "QUEUE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) fail(err error) { p.errs = append(p.errs, err) }

func (p *parser) err() error { return errors.Join(p.errs...) }

func (p *parser) intVar(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) boolVar(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(fmt.Errorf("%s: %q is not a positive duration", key, v))
		return def
	}
	return d
}
