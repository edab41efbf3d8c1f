package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 15 * time.Second
	defaultIdleTimeout          = 60 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultEnvironment          = "local"
	defaultTemplatesDir         = "templates"
	defaultPublicDir            = "public"
	defaultContentDir           = "content"
	defaultLocalesDir           = "locales"
	defaultOwnerEmail           = "lennoxlocaladsflyer@gmail.com"
	defaultContactPhone         = "(562) 282-9498"
	defaultMinReplyDelay        = time.Second
	defaultMaxReplyDelay        = 2 * time.Second
	defaultChatIdleTTL          = 30 * time.Minute
	defaultChatSweepInterval    = time.Minute
	defaultCORSOrigins          = "*"
	defaultMailTopic            = "reservation-mail"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultSecretsFallbackFile  = ".secrets.local"
	defaultLogLevel             = "info"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Site          SiteConfig
	Session       SessionConfig
	Chat          ChatConfig
	CORS          CORSConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Redis         RedisConfig
	Idempotency   IdempotencyConfig
	Secrets       SecretsConfig
	Observability ObservabilityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// SiteConfig locates templates and content and names the business contacts used in mail.
type SiteConfig struct {
	Environment  string
	TemplatesDir string
	PublicDir    string
	ContentDir   string
	LocalesDir   string
	DevMode      bool
	OwnerEmail   string
	ContactPhone string
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	SigningKey   string
	SecureCookie bool
}

// ChatConfig tunes the chat widget sessions.
type ChatConfig struct {
	MinReplyDelay time.Duration
	MaxReplyDelay time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// CORSConfig lists origins allowed to post the reservation form cross-site.
type CORSConfig struct {
	AllowedOrigins []string
}

// FirestoreConfig stores database parameters. An empty project keeps leads in memory.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic that receives reservation mail jobs. An empty project logs jobs instead.
type PubSubConfig struct {
	ProjectID    string
	MailTopic    string
	EmulatorHost string
}

// RedisConfig points the idempotency store at Redis. An empty address keeps records in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretsConfig configures Secret Manager lookups for secret:// references.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel  string
	ProjectID string
}

// IsProduction reports whether the site runs in the production environment.
func (c SiteConfig) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a single raw value using the same precedence as Load. Callers use it to
// bootstrap collaborators (logger, secret fetcher) before the full configuration exists.
func Lookup(key string, opts ...Option) (string, bool, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", false, err
	}
	value, ok := lookup(key)
	return value, ok, nil
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}, nil
}

// Load assembles the site configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	environment := strings.ToLower(stringWithDefault(lookup, "SITE_ENVIRONMENT", defaultEnvironment))
	cfg := Config{
		Server: ServerConfig{
			Port:            portWithDefault(lookup),
			ReadTimeout:     durationWithDefault(lookup, "SITE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "SITE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "SITE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "SITE_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Site: SiteConfig{
			Environment:  environment,
			TemplatesDir: stringWithDefault(lookup, "SITE_TEMPLATES_DIR", defaultTemplatesDir),
			PublicDir:    stringWithDefault(lookup, "SITE_PUBLIC_DIR", defaultPublicDir),
			ContentDir:   stringWithDefault(lookup, "SITE_CONTENT_DIR", defaultContentDir),
			LocalesDir:   stringWithDefault(lookup, "SITE_LOCALES_DIR", defaultLocalesDir),
			DevMode:      boolWithDefault(lookup, "SITE_DEV", false),
			OwnerEmail:   stringWithDefault(lookup, "SITE_OWNER_EMAIL", defaultOwnerEmail),
			ContactPhone: stringWithDefault(lookup, "SITE_CONTACT_PHONE", defaultContactPhone),
		},
		Session: SessionConfig{
			SigningKey:   stringWithDefault(lookup, "SITE_SESSION_SIGNING_KEY", ""),
			SecureCookie: boolWithDefault(lookup, "SITE_SESSION_SECURE", environment == "prod"),
		},
		Chat: ChatConfig{
			MinReplyDelay: durationWithDefault(lookup, "SITE_CHAT_MIN_REPLY_DELAY", defaultMinReplyDelay),
			MaxReplyDelay: durationWithDefault(lookup, "SITE_CHAT_MAX_REPLY_DELAY", defaultMaxReplyDelay),
			IdleTTL:       durationWithDefault(lookup, "SITE_CHAT_IDLE_TTL", defaultChatIdleTTL),
			SweepInterval: durationWithDefault(lookup, "SITE_CHAT_SWEEP_INTERVAL", defaultChatSweepInterval),
		},
		CORS: CORSConfig{
			AllowedOrigins: csvWithDefault(lookup, "SITE_CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "SITE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "SITE_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "SITE_PUBSUB_PROJECT_ID", ""),
			MailTopic:    stringWithDefault(lookup, "SITE_PUBSUB_MAIL_TOPIC", defaultMailTopic),
			EmulatorHost: stringWithDefault(lookup, "SITE_PUBSUB_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "SITE_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "SITE_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "SITE_REDIS_DB", 0),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "SITE_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "SITE_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "SITE_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "SITE_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "SITE_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "SITE_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
		Observability: ObservabilityConfig{
			LogLevel:  stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
			ProjectID: stringWithDefault(lookup, "SITE_TRACE_PROJECT_ID", ""),
		},
	}

	// Pub/Sub and tracing default to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Observability.ProjectID == "" {
		cfg.Observability.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Session.SigningKey,
		&cfg.Redis.Password,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Chat.MinReplyDelay < 0 {
		missing = append(missing, "Chat.MinReplyDelay")
	}
	if cfg.Chat.MaxReplyDelay < cfg.Chat.MinReplyDelay {
		missing = append(missing, "Chat.MaxReplyDelay")
	}
	if cfg.Chat.IdleTTL <= 0 {
		missing = append(missing, "Chat.IdleTTL")
	}
	if cfg.Chat.SweepInterval <= 0 {
		missing = append(missing, "Chat.SweepInterval")
	}
	if cfg.Site.IsProduction() && strings.TrimSpace(cfg.Session.SigningKey) == "" {
		missing = append(missing, "Session.SigningKey")
	}
	if strings.TrimSpace(cfg.Site.OwnerEmail) == "" {
		missing = append(missing, "Site.OwnerEmail")
	}
	if cfg.PubSub.ProjectID != "" && strings.TrimSpace(cfg.PubSub.MailTopic) == "" {
		missing = append(missing, "PubSub.MailTopic")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

// portWithDefault prefers SITE_SERVER_PORT, then Cloud Run's PORT.
func portWithDefault(lookup func(string) (string, bool)) string {
	if value, ok := lookup("SITE_SERVER_PORT"); ok && value != "" {
		return value
	}
	return stringWithDefault(lookup, "PORT", defaultPort)
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key, fallback string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
