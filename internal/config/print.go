package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// document mirrors Config with human-readable durations for --print-config.
type document struct {
	Profile          string            `yaml:"profile"`
	BaseURL          string            `yaml:"base_url"`
	Path             string            `yaml:"path"`
	Headers          map[string]string `yaml:"headers,omitempty"`
	Timeout          string            `yaml:"timeout"`
	Auth             *authDocument     `yaml:"auth,omitempty"`
	StartVUs         int               `yaml:"start_vus"`
	Stages           []stageDocument   `yaml:"stages"`
	RPS              int               `yaml:"rps"`
	GracefulRampDown string            `yaml:"graceful_ramp_down"`
	GracefulStop     string            `yaml:"graceful_stop"`
	Sleep            map[string]string `yaml:"sleep"`
	Checks           []checkDocument   `yaml:"checks,omitempty"`
	Thresholds       []string          `yaml:"thresholds"`
	Outputs          outputDocument    `yaml:"outputs"`
	Log              LogConfig         `yaml:"log"`
	Tracing          *TracingConfig    `yaml:"tracing,omitempty"`
	Telemetry        *telemetryDoc     `yaml:"telemetry,omitempty"`
	HistoryFile      string            `yaml:"history_file,omitempty"`
}

// authDocument replaces secrets with a placeholder.
type authDocument struct {
	Type         AuthType `yaml:"type"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	ClientID     string   `yaml:"client_id,omitempty"`
	Username     string   `yaml:"username,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	StaticToken  string   `yaml:"static_token,omitempty"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Password     string   `yaml:"password,omitempty"`
}

const redacted = "<redacted>"

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}

type stageDocument struct {
	Duration string `yaml:"duration"`
	Target   int    `yaml:"target"`
}

type checkDocument struct {
	Name     string `yaml:"name,omitempty"`
	Type     string `yaml:"type"`
	Max      string `yaml:"max,omitempty"`
	Status   int    `yaml:"status,omitempty"`
	Path     string `yaml:"path,omitempty"`
	Equals   string `yaml:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

type outputDocument struct {
	JSON      bool   `yaml:"json"`
	Dashboard bool   `yaml:"dashboard"`
	HTML      string `yaml:"html,omitempty"`
	HostStats bool   `yaml:"host_stats"`
}

type telemetryDoc struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	Protocol    string `yaml:"protocol,omitempty"`
	Insecure    bool   `yaml:"insecure"`
	Interval    string `yaml:"interval"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// YAML renders the effective configuration. Stages are expanded, so the
// vus/duration shorthand prints as a single stage.
func (c Config) YAML() ([]byte, error) {
	doc := document{
		Profile:          c.Profile,
		BaseURL:          c.BaseURL,
		Path:             c.Path,
		Headers:          c.Headers,
		Timeout:          formatDuration(c.Timeout),
		StartVUs:         c.EffectiveStartVUs(),
		RPS:              c.RPS,
		GracefulRampDown: formatDuration(c.GracefulRampDown),
		GracefulStop:     formatDuration(c.GracefulStop),
		Sleep:            map[string]string{"min": formatDuration(c.Sleep.Min), "max": formatDuration(c.Sleep.Max)},
		Thresholds:       c.Thresholds,
		Outputs: outputDocument{
			JSON:      c.JSONOutput,
			Dashboard: c.Dashboard,
			HTML:      c.HTMLOutput,
			HostStats: c.HostStats,
		},
		Log:         c.Log,
		HistoryFile: c.History.File,
	}
	for _, s := range c.EffectiveStages() {
		doc.Stages = append(doc.Stages, stageDocument{Duration: formatDuration(s.Duration), Target: s.Target})
	}
	for _, chk := range c.Checks {
		doc.Checks = append(doc.Checks, checkDocument{
			Name:     chk.Name,
			Type:     chk.Type,
			Max:      formatDuration(chk.Max),
			Status:   chk.Status,
			Path:     chk.Path,
			Equals:   chk.Equals,
			Contains: chk.Contains,
		})
	}
	if c.Auth.Type != AuthTypeNone {
		doc.Auth = &authDocument{
			Type:         c.Auth.Type,
			TokenURL:     c.Auth.TokenURL,
			ClientID:     c.Auth.ClientID,
			Username:     c.Auth.Username,
			Scopes:       c.Auth.Scopes,
			StaticToken:  redact(c.Auth.StaticToken),
			ClientSecret: redact(c.Auth.ClientSecret),
			Password:     redact(c.Auth.Password),
		}
	}
	if c.Tracing.Enabled {
		t := c.Tracing
		doc.Tracing = &t
	}
	if c.Telemetry.Protocol != "" || c.Telemetry.MetricsAddr != "" {
		doc.Telemetry = &telemetryDoc{
			Endpoint:    c.Telemetry.Endpoint,
			Protocol:    c.Telemetry.Protocol,
			Insecure:    c.Telemetry.Insecure,
			Interval:    formatDuration(c.Telemetry.Interval),
			MetricsAddr: c.Telemetry.MetricsAddr,
		}
	}
	return yaml.Marshal(doc)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
