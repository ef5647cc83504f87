package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/stagefire/internal/config"
)

func TestLoadWithoutArgsRequestsHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load() error = %v, want ErrHelpRequested", err)
	}
}

func TestDefaultProfile(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--base-url", "http://localhost:8080"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Profile != "default" {
		t.Errorf("Profile = %q, want default", cfg.Profile)
	}
	want := []config.Stage{
		{Duration: time.Minute, Target: 2},
		{Duration: time.Minute, Target: 8},
		{Duration: 30 * time.Second, Target: 0},
	}
	if len(cfg.Stages) != len(want) {
		t.Fatalf("Stages = %+v, want %+v", cfg.Stages, want)
	}
	for i := range want {
		if cfg.Stages[i] != want[i] {
			t.Errorf("Stages[%d] = %+v, want %+v", i, cfg.Stages[i], want[i])
		}
		if cfg.Stages[i].Duration <= 0 || cfg.Stages[i].Target < 0 {
			t.Errorf("Stages[%d] violates duration > 0 / target >= 0", i)
		}
	}
	if cfg.RPS != 2 {
		t.Errorf("RPS = %d, want 2", cfg.RPS)
	}
	if cfg.Sleep.Min != time.Second || cfg.Sleep.Max != 3*time.Second {
		t.Errorf("Sleep = %+v, want [1s, 3s)", cfg.Sleep)
	}
	if len(cfg.Checks) != 2 {
		t.Errorf("Checks = %+v, want 2 checks", cfg.Checks)
	}
	assertThresholds(t, cfg.Thresholds, "http_req_duration:p(95)<200", "http_req_failed:rate<0.1")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestStrictProfile(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--base-url", "http://localhost:8080", "--profile", "strict"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != "strict" {
		t.Errorf("Profile = %q, want strict", cfg.Profile)
	}
	assertThresholds(t, cfg.Thresholds, "http_req_duration:p(95)<200", "http_req_failed:rate<0.01")
}

func TestUnknownProfile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--base-url", "http://localhost", "--profile", "chaos"})
	if err == nil || !strings.Contains(err.Error(), "unknown profile") {
		t.Fatalf("Load() error = %v, want unknown profile", err)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"profile: strict",
		"base_url: https://service.example.com",
		"path: /search",
		"headers:",
		"  X-Env: staging",
		"stages:",
		"  - duration: 10s",
		"    target: 4",
		"  - 5s:0",
		"rps: 20",
		"timeout: 15s",
		"auth:",
		"  type: bearer",
		"  static_token: abc123",
		"thresholds:",
		"  http_req_duration: [\"p(99)<500\"]",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Profile != "strict" {
		t.Errorf("Profile = %q, want strict", cfg.Profile)
	}
	if cfg.Target() != "https://service.example.com/search" {
		t.Errorf("Target() = %q", cfg.Target())
	}
	if cfg.Headers["X-Env"] != "staging" {
		t.Errorf("Headers[X-Env] = %q, want staging", cfg.Headers["X-Env"])
	}
	if len(cfg.Stages) != 2 || cfg.Stages[0].Target != 4 || cfg.Stages[1].Duration != 5*time.Second {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if cfg.RPS != 20 {
		t.Errorf("RPS = %d, want 20", cfg.RPS)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %s, want 15s", cfg.Timeout)
	}
	if cfg.Auth.Type != config.AuthTypeBearer || cfg.Auth.StaticToken != "abc123" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	assertThresholds(t, cfg.Thresholds, "http_req_duration:p(99)<500")
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"base_url": "https://api.example.com",
		"rps": 100,
		"vus": 3,
		"duration": "2m",
		"sleep": {"min": "0s", "max": "0s"}
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--rps", "7", "--threshold", "http_req_failed:rate<0.05"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RPS != 7 {
		t.Errorf("RPS = %d, want 7", cfg.RPS)
	}
	if len(cfg.Stages) != 0 {
		t.Errorf("Stages = %+v, want profile stages replaced by shorthand", cfg.Stages)
	}
	if cfg.TotalDuration() != 2*time.Minute || cfg.MaxVUs() != 3 || cfg.EffectiveStartVUs() != 3 {
		t.Errorf("shorthand not applied: duration=%s max=%d start=%d", cfg.TotalDuration(), cfg.MaxVUs(), cfg.EffectiveStartVUs())
	}
	if cfg.Sleep.Max != 0 {
		t.Errorf("Sleep.Max = %s, want 0", cfg.Sleep.Max)
	}
	assertThresholds(t, cfg.Thresholds, "http_req_failed:rate<0.05")
}

func TestSingleShorthandFlagKeepsFileValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("base_url: https://api.example.com\nvus: 2\nduration: 10s\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--vus", "5"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VUs != 5 || cfg.Duration != 10*time.Second {
		t.Errorf("vus=%d duration=%s, want 5 and 10s", cfg.VUs, cfg.Duration)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cfg, err = config.NewLoader().Load([]string{"--config", path, "--duration", "30s"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VUs != 2 || cfg.Duration != 30*time.Second {
		t.Errorf("vus=%d duration=%s, want 2 and 30s", cfg.VUs, cfg.Duration)
	}
}

func TestIncompleteShorthandKeepsProfileStages(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--base-url", "http://localhost:8080", "--vus", "4"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Stages) != 3 {
		t.Fatalf("Stages = %+v, want the profile stages", cfg.Stages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if joined := strings.Join(cfg.Warnings(), "\n"); !strings.Contains(joined, "shorthand is ignored") {
		t.Errorf("Warnings() = %q", joined)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	valid := config.Config{
		BaseURL: "https://example.com",
		Stages:  []config.Stage{{Duration: time.Second, Target: 1}},
	}
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{
			name:   "missing base url",
			mutate: func(c *config.Config) { c.BaseURL = "" },
			want:   []string{"base_url"},
		},
		{
			name:   "bad scheme",
			mutate: func(c *config.Config) { c.BaseURL = "ftp://example.com" },
			want:   []string{"scheme"},
		},
		{
			name:   "no stages",
			mutate: func(c *config.Config) { c.Stages = nil },
			want:   []string{"at least one stage"},
		},
		{
			name: "bad stages",
			mutate: func(c *config.Config) {
				c.Stages = []config.Stage{{Duration: 0, Target: 1}, {Duration: time.Second, Target: -1}}
			},
			want: []string{"stages[0]: duration", "stages[1]: target"},
		},
		{
			name: "negative values",
			mutate: func(c *config.Config) {
				c.RPS = -1
				c.Timeout = -1
				c.StartVUs = -1
			},
			want: []string{"rps", "timeout", "start_vus"},
		},
		{
			name:   "sleep inverted",
			mutate: func(c *config.Config) { c.Sleep = config.SleepConfig{Min: 3 * time.Second, Max: time.Second} },
			want:   []string{"sleep: max must be >= min"},
		},
		{
			name: "stages with shorthand",
			mutate: func(c *config.Config) {
				c.VUs = 2
				c.Duration = time.Minute
			},
			want: []string{"mutually exclusive"},
		},
		{
			name: "bad checks",
			mutate: func(c *config.Config) {
				c.Checks = []config.CheckConfig{{Type: "status", Status: 42}, {Type: "regex"}}
			},
			want: []string{"checks[0]: status", "checks[1]: unsupported"},
		},
		{
			name:   "bad log format",
			mutate: func(c *config.Config) { c.Log.Format = "xml" },
			want:   []string{"log: format"},
		},
		{
			name: "telemetry without endpoint",
			mutate: func(c *config.Config) {
				c.Telemetry.Protocol = "grpc"
			},
			want: []string{"telemetry: endpoint"},
		},
		{
			name: "oauth2 without credentials",
			mutate: func(c *config.Config) {
				c.Auth = config.AuthConfig{Type: config.AuthTypeOAuth2ClientCredentials, TokenURL: "https://idp.example.com/token"}
			},
			want: []string{"auth: client_id", "auth: client_secret"},
		},
		{
			name:   "bearer without token",
			mutate: func(c *config.Config) { c.Auth.Type = config.AuthTypeBearer },
			want:   []string{"auth: static_token"},
		},
		{
			name:   "unknown auth type",
			mutate: func(c *config.Config) { c.Auth.Type = "kerberos" },
			want:   []string{"auth: unsupported type"},
		},
		{
			name: "dashboard with json",
			mutate: func(c *config.Config) {
				c.Dashboard = true
				c.JSONOutput = true
			},
			want: []string{"dashboard"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			var vErr config.ValidationError
			if !errors.As(err, &vErr) || len(vErr.Issues()) == 0 {
				t.Fatalf("Validate() error type = %T, want ValidationError", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() error %q missing %q", err.Error(), want)
				}
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.Config{
		RPS:    5000,
		Stages: []config.Stage{{Duration: time.Second, Target: 900}},
	}
	warnings := cfg.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("Warnings() = %v, want 2", warnings)
	}
	if !strings.Contains(warnings[0], "5000 RPS") || !strings.Contains(warnings[1], "900 VUs") {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestPrintConfigYAML(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--base-url", "http://localhost:8080", "--print-config"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.PrintConfig {
		t.Fatal("PrintConfig = false, want true")
	}
	data, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, data)
	}
	if doc["base_url"] != "http://localhost:8080" {
		t.Errorf("base_url = %v", doc["base_url"])
	}
	if !strings.Contains(string(data), "duration: 1m0s") {
		t.Errorf("expected human readable stage durations:\n%s", data)
	}
}

func TestPrintConfigRedactsSecrets(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{
		"--base-url", "https://api.example.com",
		"--auth-type", "oauth2_client_credentials",
		"--auth-token-url", "https://idp.example.com/token",
		"--auth-client-id", "probe",
		"--auth-client-secret", "s3cr3t",
		"--auth-scope", "search.read",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Auth.ClientSecret != "s3cr3t" || len(cfg.Auth.Scopes) != 1 {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}

	data, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	out := string(data)
	if strings.Contains(out, "s3cr3t") {
		t.Errorf("printed config leaks the client secret:\n%s", out)
	}
	for _, want := range []string{"client_id: probe", "client_secret: <redacted>", "search.read"} {
		if !strings.Contains(out, want) {
			t.Errorf("printed config missing %q:\n%s", want, out)
		}
	}
}

func TestAuthWarnings(t *testing.T) {
	cfg := config.Config{
		BaseURL: "http://api.example.com",
		RPS:     2,
		Auth:    config.AuthConfig{Type: config.AuthTypeOAuth2Password},
	}
	joined := strings.Join(cfg.Warnings(), "\n")
	if !strings.Contains(joined, "legacy grant") || !strings.Contains(joined, "plain HTTP") {
		t.Errorf("Warnings() = %q", joined)
	}
}

func assertThresholds(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Thresholds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Thresholds[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
