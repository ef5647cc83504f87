package config

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from profiles, files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// defaults are applied before the profile.
func defaults() *Config {
	return &Config{
		Profile:          DefaultProfile,
		Path:             "/",
		Headers:          map[string]string{},
		Timeout:          30 * time.Second,
		GracefulRampDown: 30 * time.Second,
		GracefulStop:     30 * time.Second,
		Sleep:            SleepConfig{Min: time.Second, Max: 3 * time.Second},
		Log:              LogConfig{Level: "info", Format: "console"},
		Tracing:          TracingConfig{Protocol: "grpc", SampleRate: 1, ServiceName: "stagefire"},
		Telemetry:        TelemetryConfig{Interval: 10 * time.Second},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Precedence, lowest first: built-in profile, config file, explicit flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	// If no arguments provided and no config file, show help/usage
	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	var fileSettings map[string]interface{}
	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
		fileSettings = cfgViper.AllSettings()
	}

	profile := DefaultProfile
	if raw, ok := lookupSetting(fileSettings, "profile"); ok {
		val, err := asString(raw)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			profile = val
		}
	}
	if flagSet.Changed("profile") {
		val, err := flagSet.GetString("profile")
		if err != nil {
			return nil, err
		}
		profile = val
	}

	profileValues, err := profileSettings(profile)
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	cfg.ConfigFile = configPath
	if err := applyConfigSettings(cfg, profileValues); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile, err)
	}
	if err := applyConfigSettings(cfg, fileSettings); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	cfg.Profile = strings.ToLower(strings.TrimSpace(profile))

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a profile or config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "baseurl", "base_url", "base-url", "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		cfg.BaseURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		cfg.Path = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	stagesSet := false
	if raw, ok := lookupSetting(settings, "stages"); ok {
		stages, err := parseStages(raw)
		if err != nil {
			return fmt.Errorf("stages: %w", err)
		}
		cfg.Stages = stages
		stagesSet = true
	}

	if raw, ok := lookupSetting(settings, "startvus", "start_vus", "start-vus"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("start_vus: %w", err)
		}
		cfg.StartVUs = val
	}

	if raw, ok := lookupSetting(settings, "vus"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("vus: %w", err)
		}
		cfg.VUs = val
		if !stagesSet {
			cfg.Stages = nil
		}
	}

	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = dur
		if !stagesSet {
			cfg.Stages = nil
		}
	}

	if raw, ok := lookupSetting(settings, "rps", "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rps: %w", err)
		}
		cfg.RPS = val
	}

	if raw, ok := lookupSetting(settings, "gracefulrampdown", "graceful_ramp_down", "graceful-ramp-down"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("graceful_ramp_down: %w", err)
		}
		cfg.GracefulRampDown = dur
	}

	if raw, ok := lookupSetting(settings, "gracefulstop", "graceful_stop", "graceful-stop"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("graceful_stop: %w", err)
		}
		cfg.GracefulStop = dur
	}

	if raw, ok := lookupSetting(settings, "sleep"); ok {
		sleep, err := parseSleep(raw, cfg.Sleep)
		if err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
		cfg.Sleep = sleep
	}

	if raw, ok := lookupSetting(settings, "checks"); ok {
		checks, err := parseChecks(raw)
		if err != nil {
			return fmt.Errorf("checks: %w", err)
		}
		cfg.Checks = checks
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := parseThresholds(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "htmloutput", "html_output", "html-output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("html_output: %w", err)
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "hoststats", "host_stats", "host-stats"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("host_stats: %w", err)
		}
		cfg.HostStats = val
	}

	if raw, ok := lookupSetting(settings, "auth"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if err := applyAuthSettings(&cfg.Auth, entry); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		if err := applyLogSettings(&cfg.Log, entry); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyTracingSettings(&cfg.Tracing, entry); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "telemetry"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		if err := applyTelemetrySettings(&cfg.Telemetry, entry); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "history"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		if raw, ok := lookupSetting(entry, "file"); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("history file: %w", err)
			}
			cfg.History.File = strings.TrimSpace(val)
		}
	}

	return nil
}

func parseStages(value interface{}) ([]Stage, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	stages := make([]Stage, 0, len(items))
	for idx, item := range items {
		if s, ok := item.(string); ok {
			stage, err := ParseStage(s)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", idx, err)
			}
			stages = append(stages, stage)
			continue
		}
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var stage Stage
		if raw, ok := lookupSetting(entry, "duration"); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d duration: %w", idx, err)
			}
			stage.Duration = dur
		}
		if raw, ok := lookupSetting(entry, "target", "vus"); ok {
			val, err := asInt(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d target: %w", idx, err)
			}
			stage.Target = val
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func parseSleep(value interface{}, current SleepConfig) (SleepConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return SleepConfig{}, err
	}
	sleep := current
	if raw, ok := lookupSetting(entry, "min"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return SleepConfig{}, fmt.Errorf("min: %w", err)
		}
		sleep.Min = dur
	}
	if raw, ok := lookupSetting(entry, "max"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return SleepConfig{}, fmt.Errorf("max: %w", err)
		}
		sleep.Max = dur
	}
	return sleep, nil
}

func parseChecks(value interface{}) ([]CheckConfig, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	checks := make([]CheckConfig, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		c, err := buildCheck(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		checks = append(checks, c)
	}
	return checks, nil
}

func buildCheck(settings map[string]interface{}) (CheckConfig, error) {
	var c CheckConfig
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("name: %w", err)
		}
		c.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "type", "kind"); ok {
		val, err := asString(raw)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("type: %w", err)
		}
		c.Type = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "max"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("max: %w", err)
		}
		c.Max = dur
	}
	if raw, ok := lookupSetting(settings, "status"); ok {
		val, err := asInt(raw)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("status: %w", err)
		}
		c.Status = val
	}
	if raw, ok := lookupSetting(settings, "path", "jsonpath"); ok {
		val, err := asString(raw)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("path: %w", err)
		}
		c.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "equals"); ok {
		val, err := asString(raw)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("equals: %w", err)
		}
		c.Equals = val
	}
	if raw, ok := lookupSetting(settings, "contains"); ok {
		val, err := asString(raw)
		if err != nil {
			return CheckConfig{}, fmt.Errorf("contains: %w", err)
		}
		c.Contains = val
	}
	return c, nil
}

// parseThresholds accepts a flat list ("metric:expr") or a map of metric to
// one or more expressions. Map entries are flattened in metric name order.
func parseThresholds(value interface{}) ([]string, error) {
	switch value.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
		entry, err := toStringKeyMap(value)
		if err != nil {
			return nil, err
		}
		metrics := make([]string, 0, len(entry))
		for metric := range entry {
			metrics = append(metrics, metric)
		}
		sort.Strings(metrics)
		var out []string
		for _, metric := range metrics {
			exprs, err := asStringSlice(entry[metric])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", metric, err)
			}
			for _, expr := range exprs {
				out = append(out, metric+":"+strings.TrimSpace(expr))
			}
		}
		return out, nil
	default:
		return asStringSlice(value)
	}
}

func applyLogSettings(l *LogConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		l.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		l.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "errors"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("errors: %w", err)
		}
		l.Errors = val
	}
	return nil
}

func applyAuthSettings(a *AuthConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("type: %w", err)
		}
		a.Type = AuthType(strings.ToLower(strings.TrimSpace(val)))
	}
	strSettings := []struct {
		name string
		keys []string
		dst  *string
	}{
		{"static_token", []string{"statictoken", "static_token", "static-token"}, &a.StaticToken},
		{"token_url", []string{"tokenurl", "token_url", "token-url"}, &a.TokenURL},
		{"client_id", []string{"clientid", "client_id", "client-id"}, &a.ClientID},
		{"client_secret", []string{"clientsecret", "client_secret", "client-secret"}, &a.ClientSecret},
		{"username", []string{"username"}, &a.Username},
		{"password", []string{"password"}, &a.Password},
	}
	for _, s := range strSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.dst = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "scopes"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("scopes: %w", err)
		}
		a.Scopes = val
	}
	if raw, ok := lookupSetting(settings, "refreshbeforeexpiry", "refresh_before_expiry", "refresh-before-expiry"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("refresh_before_expiry: %w", err)
		}
		a.RefreshBeforeExpiry = dur
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		t.Enabled = val
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		val, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		t.Headers = val
	}
	return nil
}

func applyTelemetrySettings(t *TelemetryConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		t.Interval = dur
	}
	if raw, ok := lookupSetting(settings, "metricsaddr", "metrics_addr", "metrics-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		t.MetricsAddr = strings.TrimSpace(val)
	}
	return nil
}
