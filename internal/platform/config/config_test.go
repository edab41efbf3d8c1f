package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Site.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Site.Environment)
	}
	if cfg.Site.OwnerEmail != defaultOwnerEmail {
		t.Errorf("unexpected owner email %s", cfg.Site.OwnerEmail)
	}
	if cfg.Chat.MinReplyDelay != time.Second || cfg.Chat.MaxReplyDelay != 2*time.Second {
		t.Errorf("unexpected reply delay window %s..%s", cfg.Chat.MinReplyDelay, cfg.Chat.MaxReplyDelay)
	}
	if cfg.Chat.IdleTTL != 30*time.Minute {
		t.Errorf("unexpected idle ttl %s", cfg.Chat.IdleTTL)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("expected wildcard cors origin, got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.PubSub.MailTopic != defaultMailTopic {
		t.Errorf("unexpected mail topic %s", cfg.PubSub.MailTopic)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Session.SecureCookie {
		t.Errorf("expected insecure cookie outside prod")
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"SITE_SERVER_PORT":          "9090",
		"SITE_SERVER_IDLE_TIMEOUT":  "2m",
		"SITE_ENVIRONMENT":          "prod",
		"SITE_SESSION_SIGNING_KEY":  "secret://session/key",
		"SITE_CHAT_MIN_REPLY_DELAY": "10ms",
		"SITE_CHAT_MAX_REPLY_DELAY": "20ms",
		"SITE_CORS_ALLOWED_ORIGINS": "https://lennoxlocalads.com, https://www.lennoxlocalads.com",
		"SITE_FIRESTORE_PROJECT_ID": "lla-prod",
		"SITE_REDIS_ADDR":           "localhost:6379",
		"SITE_REDIS_PASSWORD":       "sm://redis/password",
		"SITE_REDIS_DB":             "3",
		"SITE_IDEMPOTENCY_TTL":      "48h",
		"LOG_LEVEL":                 "debug",
	}
	secrets := map[string]string{
		"secret://session/key":    "signing-key",
		"secret://redis/password": "redis-pass",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if !cfg.Site.IsProduction() {
		t.Errorf("expected production environment")
	}
	if !cfg.Session.SecureCookie {
		t.Errorf("expected secure cookie in prod")
	}
	if cfg.Session.SigningKey != "signing-key" {
		t.Errorf("expected resolved signing key, got %s", cfg.Session.SigningKey)
	}
	if cfg.Redis.Password != "redis-pass" {
		t.Errorf("expected resolved redis password, got %s", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("unexpected redis db %d", cfg.Redis.DB)
	}
	if cfg.Chat.MaxReplyDelay != 20*time.Millisecond {
		t.Errorf("unexpected max reply delay %s", cfg.Chat.MaxReplyDelay)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 allowed origins, got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.PubSub.ProjectID != "lla-prod" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Observability.ProjectID != "lla-prod" {
		t.Errorf("expected trace project to default to firestore project, got %s", cfg.Observability.ProjectID)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("unexpected log level %s", cfg.Observability.LogLevel)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadFallsBackToCloudRunPort(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{"PORT": "8181"}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "8181" {
		t.Fatalf("expected PORT fallback, got %s", cfg.Server.Port)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nexport SITE_SERVER_PORT=7070\nSITE_OWNER_EMAIL=\"owner@example.com\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Site.OwnerEmail != "owner@example.com" {
		t.Errorf("expected owner email from dotenv, got %s", cfg.Site.OwnerEmail)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	env := map[string]string{
		"SITE_ENVIRONMENT":          "prod",
		"SITE_CHAT_MIN_REPLY_DELAY": "3s",
		"SITE_CHAT_MAX_REPLY_DELAY": "1s",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Chat.MaxReplyDelay" || fields[1] != "Session.SigningKey" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"SITE_SESSION_SIGNING_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestLookupUsesSamePrecedence(t *testing.T) {
	t.Setenv("SITE_SECRETS_PROJECT_ID", "os-project")

	value, ok, err := Lookup("SITE_SECRETS_PROJECT_ID",
		WithEnvFile(""),
		WithEnvMap(map[string]string{"SITE_SECRETS_PROJECT_ID": "override-project"}),
	)
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if !ok || value != "override-project" {
		t.Fatalf("expected override project, got %q (%v)", value, ok)
	}

	value, ok, err = Lookup("SITE_SECRETS_PROJECT_ID", WithEnvFile(""))
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if !ok || value != "os-project" {
		t.Fatalf("expected system env project, got %q (%v)", value, ok)
	}
}
