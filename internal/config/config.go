package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the effective configuration of one probe run.
type Config struct {
	Profile          string            `mapstructure:"profile" yaml:"profile"`
	BaseURL          string            `mapstructure:"base_url" yaml:"base_url"`
	Path             string            `mapstructure:"path" yaml:"path"`
	Headers          map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout          time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Auth             AuthConfig        `mapstructure:"auth" yaml:"auth,omitempty"`
	Stages           []Stage           `mapstructure:"stages" yaml:"stages"`
	StartVUs         int               `mapstructure:"start_vus" yaml:"start_vus"`
	VUs              int               `mapstructure:"vus" yaml:"vus,omitempty"`
	Duration         time.Duration     `mapstructure:"duration" yaml:"duration,omitempty"`
	RPS              int               `mapstructure:"rps" yaml:"rps"`
	GracefulRampDown time.Duration     `mapstructure:"graceful_ramp_down" yaml:"graceful_ramp_down"`
	GracefulStop     time.Duration     `mapstructure:"graceful_stop" yaml:"graceful_stop"`
	Sleep            SleepConfig       `mapstructure:"sleep" yaml:"sleep"`
	Checks           []CheckConfig     `mapstructure:"checks" yaml:"checks,omitempty"`
	Thresholds       []string          `mapstructure:"thresholds" yaml:"thresholds"`
	JSONOutput       bool              `mapstructure:"json_output" yaml:"json_output"`
	HTMLOutput       string            `mapstructure:"html_output" yaml:"html_output,omitempty"`
	Dashboard        bool              `mapstructure:"dashboard" yaml:"dashboard"`
	HostStats        bool              `mapstructure:"host_stats" yaml:"host_stats"`
	Log              LogConfig         `mapstructure:"log" yaml:"log"`
	Tracing          TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Telemetry        TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
	History          HistoryConfig     `mapstructure:"history" yaml:"history"`
	ConfigFile       string            `mapstructure:"-" yaml:"-"`
	PrintConfig      bool              `mapstructure:"-" yaml:"-"`
}

// Stage ramps the VU count linearly to Target over Duration.
type Stage struct {
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`
	Target   int           `mapstructure:"target" yaml:"target"`
}

// SleepConfig bounds the random think time after each iteration, in [Min, Max).
type SleepConfig struct {
	Min time.Duration `mapstructure:"min" yaml:"min"`
	Max time.Duration `mapstructure:"max" yaml:"max"`
}

// CheckConfig declares one per-response check.
type CheckConfig struct {
	Name     string        `mapstructure:"name" yaml:"name,omitempty"`
	Type     string        `mapstructure:"type" yaml:"type"`
	Max      time.Duration `mapstructure:"max" yaml:"max,omitempty"`
	Status   int           `mapstructure:"status" yaml:"status,omitempty"`
	Path     string        `mapstructure:"path" yaml:"path,omitempty"`
	Equals   string        `mapstructure:"equals" yaml:"equals,omitempty"`
	Contains string        `mapstructure:"contains" yaml:"contains,omitempty"`
}

type AuthType string

const (
	AuthTypeNone                    AuthType = ""
	AuthTypeBearer                  AuthType = "bearer"
	AuthTypeOAuth2ClientCredentials AuthType = "oauth2_client_credentials"
	AuthTypeOAuth2Password          AuthType = "oauth2_password"
)

// AuthConfig selects how the probe authenticates to the target.
type AuthConfig struct {
	Type                AuthType      `mapstructure:"type" yaml:"type,omitempty"`
	StaticToken         string        `mapstructure:"static_token" yaml:"static_token,omitempty"`
	TokenURL            string        `mapstructure:"token_url" yaml:"token_url,omitempty"`
	ClientID            string        `mapstructure:"client_id" yaml:"client_id,omitempty"`
	ClientSecret        string        `mapstructure:"client_secret" yaml:"client_secret,omitempty"`
	Username            string        `mapstructure:"username" yaml:"username,omitempty"`
	Password            string        `mapstructure:"password" yaml:"password,omitempty"`
	Scopes              []string      `mapstructure:"scopes" yaml:"scopes,omitempty"`
	RefreshBeforeExpiry time.Duration `mapstructure:"refresh_before_expiry" yaml:"refresh_before_expiry,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Errors bool   `mapstructure:"errors" yaml:"errors"`
}

type TracingConfig struct {
	Enabled     bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Protocol    string            `mapstructure:"protocol" yaml:"protocol,omitempty"` // "grpc" or "http"
	Insecure    bool              `mapstructure:"insecure" yaml:"insecure"`
	SampleRate  float64           `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName string            `mapstructure:"service_name" yaml:"service_name,omitempty"`
	Headers     map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

type TelemetryConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Protocol    string        `mapstructure:"protocol" yaml:"protocol,omitempty"` // "grpc", "http" or "stdout"
	Insecure    bool          `mapstructure:"insecure" yaml:"insecure"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MetricsAddr string        `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

type HistoryConfig struct {
	File string `mapstructure:"file" yaml:"file,omitempty"`
	List int    `mapstructure:"list" yaml:"list,omitempty"`
}

// Target joins the base URL and path.
func (c Config) Target() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// EffectiveStages returns the configured stages, or a single constant stage
// when only the vus/duration shorthand was given.
func (c Config) EffectiveStages() []Stage {
	if len(c.Stages) > 0 {
		return c.Stages
	}
	if c.VUs > 0 && c.Duration > 0 {
		return []Stage{{Duration: c.Duration, Target: c.VUs}}
	}
	return nil
}

// EffectiveStartVUs is the VU count at the start of the first stage.
func (c Config) EffectiveStartVUs() int {
	if len(c.Stages) == 0 && c.VUs > 0 {
		return c.VUs
	}
	return c.StartVUs
}

// TotalDuration sums the effective stage durations.
func (c Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.EffectiveStages() {
		total += s.Duration
	}
	return total
}

// MaxVUs is the highest VU target of the run.
func (c Config) MaxVUs() int {
	max := c.EffectiveStartVUs()
	for _, s := range c.EffectiveStages() {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateTarget(c.BaseURL)...)

	if len(c.Stages) > 0 && (c.VUs > 0 || c.Duration > 0) {
		issues = append(issues, "stages and vus/duration are mutually exclusive")
	}
	if len(c.EffectiveStages()) == 0 {
		issues = append(issues, "at least one stage is required (use --stage or --vus with --duration)")
	}
	issues = append(issues, validateStages(c.Stages)...)

	if c.StartVUs < 0 {
		issues = append(issues, "start_vus must be >= 0")
	}
	if c.VUs < 0 {
		issues = append(issues, "vus must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.RPS < 0 {
		issues = append(issues, "rps must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.GracefulRampDown < 0 {
		issues = append(issues, "graceful_ramp_down must be >= 0")
	}
	if c.GracefulStop < 0 {
		issues = append(issues, "graceful_stop must be >= 0")
	}
	if c.Sleep.Min < 0 || c.Sleep.Max < 0 {
		issues = append(issues, "sleep: min and max must be >= 0")
	}
	if c.Sleep.Max < c.Sleep.Min {
		issues = append(issues, "sleep: max must be >= min")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}

	issues = append(issues, validateChecks(c.Checks)...)
	issues = append(issues, validateAuth(c.Auth)...)
	issues = append(issues, validateLog(c.Log)...)
	issues = append(issues, validateTracing(c.Tracing)...)
	issues = append(issues, validateTelemetry(c.Telemetry)...)

	if c.History.List < 0 {
		issues = append(issues, "history: list must be >= 0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings returns advisory messages about the configuration. They never block a run.
func (c Config) Warnings() []string {
	var warnings []string
	if c.RPS > 1000 {
		warnings = append(warnings, fmt.Sprintf("High rate limit configured (%d RPS). Ensure you have authorization to test the target system.", c.RPS))
	}
	if c.MaxVUs() > 500 {
		warnings = append(warnings, fmt.Sprintf("High VU count configured (%d VUs). Ensure you have authorization to test the target system.", c.MaxVUs()))
	}
	if len(c.Stages) > 0 && (c.VUs > 0 || c.Duration > 0) {
		warnings = append(warnings, "vus/duration shorthand is ignored because stages are configured.")
	}
	if c.RPS == 0 {
		warnings = append(warnings, "No rps cap configured; iterations are paced only by think time.")
	}
	if c.Auth.Type == AuthTypeOAuth2Password {
		warnings = append(warnings, "oauth2_password is a legacy grant; prefer oauth2_client_credentials.")
	}
	if c.Auth.Type != AuthTypeNone && strings.HasPrefix(strings.ToLower(strings.TrimSpace(c.BaseURL)), "http://") {
		warnings = append(warnings, "Credentials are sent to the target over plain HTTP.")
	}
	if c.Tracing.Enabled && c.Tracing.Insecure {
		warnings = append(warnings, "Trace export uses an insecure connection.")
	}
	return warnings
}

func validateTarget(base string) []string {
	base = strings.TrimSpace(base)
	if base == "" {
		return []string{"base_url is required (use --help for usage information)"}
	}
	u, err := url.Parse(base)
	if err != nil {
		return []string{fmt.Sprintf("base_url: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []string{fmt.Sprintf("base_url: scheme must be http or https, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return []string{"base_url: host is required"}
	}
	return nil
}

func validateStages(stages []Stage) []string {
	var issues []string
	for idx, stage := range stages {
		if stage.Duration <= 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: duration must be > 0", idx))
		}
		if stage.Target < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: target must be >= 0", idx))
		}
	}
	return issues
}

func validateChecks(checks []CheckConfig) []string {
	var issues []string
	seen := map[string]int{}
	for idx, c := range checks {
		switch strings.ToLower(strings.TrimSpace(c.Type)) {
		case "duration":
			if c.Max <= 0 {
				issues = append(issues, fmt.Sprintf("checks[%d]: max must be > 0 for duration", idx))
			}
		case "status":
			if c.Status < 100 || c.Status > 599 {
				issues = append(issues, fmt.Sprintf("checks[%d]: status must be between 100 and 599", idx))
			}
		case "json":
			if strings.TrimSpace(c.Path) == "" {
				issues = append(issues, fmt.Sprintf("checks[%d]: path is required for json", idx))
			}
		case "body_contains":
			if c.Contains == "" {
				issues = append(issues, fmt.Sprintf("checks[%d]: contains is required for body_contains", idx))
			}
		case "":
			issues = append(issues, fmt.Sprintf("checks[%d]: type is required", idx))
		default:
			issues = append(issues, fmt.Sprintf("checks[%d]: unsupported type %q", idx, c.Type))
		}
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name != "" {
			if prev, ok := seen[name]; ok {
				issues = append(issues, fmt.Sprintf("checks[%d]: duplicate name also defined at index %d", idx, prev))
			} else {
				seen[name] = idx
			}
		}
	}
	return issues
}

func validateAuth(a AuthConfig) []string {
	var issues []string
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			issues = append(issues, fmt.Sprintf("auth: %s is required for %s", field, a.Type))
		}
	}
	switch a.Type {
	case AuthTypeNone:
		return nil
	case AuthTypeBearer:
		required("static_token", a.StaticToken)
	case AuthTypeOAuth2ClientCredentials:
		required("token_url", a.TokenURL)
		required("client_id", a.ClientID)
		required("client_secret", a.ClientSecret)
	case AuthTypeOAuth2Password:
		required("token_url", a.TokenURL)
		required("client_id", a.ClientID)
		required("username", a.Username)
		required("password", a.Password)
	default:
		issues = append(issues, fmt.Sprintf("auth: unsupported type %q", a.Type))
	}
	if a.RefreshBeforeExpiry < 0 {
		issues = append(issues, "auth: refresh_before_expiry must be >= 0")
	}
	return issues
}

func validateLog(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log: level must be debug, info, warn or error, got %q", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be console or json, got %q", l.Format))
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	if !t.Enabled {
		return nil
	}
	var issues []string
	switch t.Protocol {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0 and 1")
	}
	return issues
}

func validateTelemetry(t TelemetryConfig) []string {
	var issues []string
	switch t.Protocol {
	case "", "grpc", "http", "stdout":
	default:
		issues = append(issues, fmt.Sprintf("telemetry: protocol must be grpc, http or stdout, got %q", t.Protocol))
	}
	if t.Protocol != "" && t.Protocol != "stdout" && strings.TrimSpace(t.Endpoint) == "" {
		issues = append(issues, "telemetry: endpoint is required for otlp export")
	}
	if t.Interval < 0 {
		issues = append(issues, "telemetry: interval must be >= 0")
	}
	return issues
}
