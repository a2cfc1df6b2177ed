package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml inside a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalProxy = `
[proxy]
origins = ["https://demo.hf.space"]
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[proxy]
origins = ["https://primary.hf.space/", "https://fallback.hf.space"]
unavailable_markers = ["Space is sleeping"]
static_prefix = "/static/"
static_extensions = ["js", "css"]
static_max_age_seconds = 600

[upstream]
timeout_seconds = 60
idle_connections = 50
cache = true

[lead]
enabled = true
path = "/api/lead"
bot_token = "123:abc"
chat_id = "42"
timezone = "Europe/Moscow"

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if len(cfg.Proxy.Origins) != 2 || cfg.Proxy.Origins[0] != "https://primary.hf.space" {
		t.Errorf("Proxy.Origins = %v, want trailing slash trimmed and order kept", cfg.Proxy.Origins)
	}
	if got := cfg.Proxy.UnavailableMarkers; len(got) != 1 || got[0] != "Space is sleeping" {
		t.Errorf("Proxy.UnavailableMarkers = %v", got)
	}
	if cfg.Proxy.StaticMaxAge() != 10*time.Minute {
		t.Errorf("Proxy.StaticMaxAge() = %v, want %v", cfg.Proxy.StaticMaxAge(), 10*time.Minute)
	}
	if !cfg.Upstream.Cache {
		t.Error("expected Upstream.Cache = true")
	}
	if cfg.Lead.Path != "/api/lead" {
		t.Errorf("Lead.Path = %q, want %q", cfg.Lead.Path, "/api/lead")
	}
	if cfg.Lead.Timezone != "Europe/Moscow" {
		t.Errorf("Lead.Timezone = %q, want %q", cfg.Lead.Timezone, "Europe/Moscow")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalProxy)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Proxy.StaticPrefix != "/assets/" {
		t.Errorf("default Proxy.StaticPrefix = %q, want %q", cfg.Proxy.StaticPrefix, "/assets/")
	}
	if len(cfg.Proxy.StaticExtensions) != 7 {
		t.Errorf("default Proxy.StaticExtensions = %v, want 7 entries", cfg.Proxy.StaticExtensions)
	}
	if cfg.Proxy.StaticMaxAgeSeconds != 3600 {
		t.Errorf("default Proxy.StaticMaxAgeSeconds = %d, want 3600", cfg.Proxy.StaticMaxAgeSeconds)
	}
	if len(cfg.Proxy.UnavailableMarkers) == 0 {
		t.Error("expected default unavailable markers")
	}
	if cfg.Lead.Enabled {
		t.Error("expected Lead.Enabled = false by default")
	}
	if cfg.Lead.Path != "/lead" {
		t.Errorf("default Lead.Path = %q, want %q", cfg.Lead.Path, "/lead")
	}
	if cfg.Lead.APIBaseURL != "https://api.telegram.org" {
		t.Errorf("default Lead.APIBaseURL = %q", cfg.Lead.APIBaseURL)
	}
	if cfg.Lead.PricingOtherValue != "Other" {
		t.Errorf("default Lead.PricingOtherValue = %q, want %q", cfg.Lead.PricingOtherValue, "Other")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[proxy]
origins = ["https://toml.hf.space"]

[lead]
enabled = true
bot_token = "toml-token"
chat_id = "1"

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		Origins:  []string{"https://a.hf.space", "https://b.hf.space"},
		BotToken: "cli-token",
		ChatID:   "2",
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if len(cfg.Proxy.Origins) != 2 || cfg.Proxy.Origins[1] != "https://b.hf.space" {
		t.Errorf("Proxy.Origins = %v (CLI override)", cfg.Proxy.Origins)
	}
	if cfg.Lead.BotToken != "cli-token" {
		t.Errorf("Lead.BotToken = %q, want %q (CLI override)", cfg.Lead.BotToken, "cli-token")
	}
	if cfg.Lead.ChatID != "2" {
		t.Errorf("Lead.ChatID = %q, want %q (CLI override)", cfg.Lead.ChatID, "2")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"no origins", `[proxy]`, "proxy.origins"},
		{"http origin", `
[proxy]
origins = ["http://demo.hf.space"]
`, "HTTPS"},
		{"origin with query", `
[proxy]
origins = ["https://demo.hf.space/?x=1"]
`, "query"},
		{"empty marker", minimalProxy + `unavailable_markers = [" "]`, "unavailable_markers"},
		{"static prefix without slash", minimalProxy + `static_prefix = "assets"`, "static_prefix"},
		{"negative port", minimalProxy + "\n[server]\nport = -1\n", "server.port"},
		{"negative body_max_bytes", minimalProxy + "\n[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative timeout", minimalProxy + "\n[upstream]\ntimeout_seconds = -5\n", "timeout_seconds"},
		{"invalid log level", minimalProxy + "\n[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", minimalProxy + "\n[log]\nformat = \"xml\"\n", "log.format"},
		{"rate limit zero", minimalProxy + "\n[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
		{"lead without token", minimalProxy + "\n[lead]\nenabled = true\nchat_id = \"1\"\n", "bot_token"},
		{"lead placeholder token", minimalProxy + "\n[lead]\nenabled = true\nbot_token = \"YOUR_BOT_TOKEN\"\nchat_id = \"1\"\n", "placeholder"},
		{"lead without chat", minimalProxy + "\n[lead]\nenabled = true\nbot_token = \"t\"\n", "chat_id"},
		{"lead placeholder chat", minimalProxy + "\n[lead]\nenabled = true\nbot_token = \"t\"\nchat_id = \"YOUR_CHAT_ID\"\n", "placeholder"},
		{"lead path reserved", minimalProxy + "\n[lead]\nenabled = true\nbot_token = \"t\"\nchat_id = \"1\"\npath = \"/healthz\"\n", "conflicts"},
		{"lead bad timezone", minimalProxy + "\n[lead]\nenabled = true\nbot_token = \"t\"\nchat_id = \"1\"\ntimezone = \"Mars/Olympus\"\n", "lead.timezone"},
		{"lead http api", minimalProxy + "\n[lead]\nenabled = true\nbot_token = \"t\"\nchat_id = \"1\"\napi_base_url = \"http://api.telegram.org\"\n", "api_base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_LeadDisabledSkipsCredentials(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, minimalProxy+"\n[lead]\nenabled = false\n")))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled lead should not require credentials", err)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalProxy+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, minimalProxy)
	path2 := writeConfig(t, minimalProxy)

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first existing %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPathConflicts(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz", "/healthz"},
		{"proxy/status", "/proxy/status"},
		{"lead exact", "/lead"},
		{"lead sub", "/lead/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := minimalProxy + `
[lead]
enabled = true
bot_token = "t"
chat_id = "1"

[metrics]
enabled = true
path = "` + tt.path + `"
`
			_, err := Load(cliWithPath(writeConfig(t, data)))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, minimalProxy+"\n[metrics]\nenabled = true\npath = \"metrics\"\n")))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, minimalProxy+"\n[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
