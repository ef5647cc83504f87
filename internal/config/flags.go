package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagefire",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("profile", DefaultProfile, fmt.Sprintf("Built-in profile to start from (%s)", strings.Join(Profiles(), ", ")))
	flags.Bool("print-config", false, "Print the effective configuration as YAML and exit")

	// Target flags
	flags.StringP("base-url", "u", "", "Base URL of the endpoint to probe")
	flags.String("path", "", "Path appended to the base URL")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")

	// Auth flags
	flags.String("auth-type", "", "Target authentication: bearer, oauth2_client_credentials or oauth2_password")
	flags.String("auth-token", "", "Static bearer token (auth-type bearer)")
	flags.String("auth-token-url", "", "OAuth2 token endpoint")
	flags.String("auth-client-id", "", "OAuth2 client ID")
	flags.String("auth-client-secret", "", "OAuth2 client secret")
	flags.String("auth-username", "", "Username for the OAuth2 password grant")
	flags.String("auth-password", "", "Password for the OAuth2 password grant")
	flags.StringSlice("auth-scope", nil, "OAuth2 scope (repeatable)")

	// Load shape flags
	flags.StringArray("stage", nil, "Stage as duration:target (repeatable, e.g. 1m:2)")
	flags.Int("start-vus", 0, "VU count at the start of the first stage")
	flags.Int("vus", 0, "Constant VU count (use with --duration instead of stages)")
	flags.DurationP("duration", "d", 0, "Run duration for the constant --vus shorthand")
	flags.IntP("rps", "r", 0, "Requests per second cap across all VUs (0 means unlimited)")
	flags.Duration("graceful-ramp-down", 30*time.Second, "Grace period for VUs retired during a ramp-down")
	flags.Duration("graceful-stop", 30*time.Second, "Grace period for in-flight iterations after the last stage")
	flags.Duration("sleep-min", time.Second, "Minimum think time after each iteration")
	flags.Duration("sleep-max", 3*time.Second, "Maximum (exclusive) think time after each iteration")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Threshold (repeatable, e.g. 'http_req_duration:p(95)<200' or 'http_req_failed:rate < 0.01')")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.String("html-output", "", "Generate HTML report to the specified file path")
	flags.Bool("host-stats", false, "Sample load generator CPU and memory during the run")

	// Logging flags
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.Bool("log-errors", false, "Log each failed request at warn level")

	// Tracing flags
	flags.Bool("tracing", false, "Export a span per iteration over OTLP")
	flags.String("tracing-endpoint", "", "OTLP trace endpoint (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP trace protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for trace export")
	flags.Float64("tracing-sample-rate", 1, "Fraction of iterations to trace")

	// Telemetry flags
	flags.String("otlp-metrics-endpoint", "", "OTLP metrics endpoint (host:port)")
	flags.String("otlp-metrics-protocol", "", "OTLP metrics protocol: grpc, http or stdout")
	flags.Bool("otlp-metrics-insecure", false, "Disable TLS for metrics export")
	flags.Duration("otlp-metrics-interval", 10*time.Second, "Metrics export interval")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9464)")

	// History flags
	flags.String("history-file", "", "Append a summary of this run to a JSONL history file")
	flags.Int("list-history", 0, "Print the N most recent runs from --history-file and exit")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the profile and config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("profile") {
		val, err := fs.GetString("profile")
		if err != nil {
			return err
		}
		cfg.Profile = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("print-config") {
		val, err := fs.GetBool("print-config")
		if err != nil {
			return err
		}
		cfg.PrintConfig = val
	}
	if fs.Changed("base-url") {
		val, err := fs.GetString("base-url")
		if err != nil {
			return err
		}
		cfg.BaseURL = strings.TrimSpace(val)
	}
	if fs.Changed("path") {
		val, err := fs.GetString("path")
		if err != nil {
			return err
		}
		cfg.Path = strings.TrimSpace(val)
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}

	if err := applyAuthFlags(&cfg.Auth, fs); err != nil {
		return err
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	if fs.Changed("stage") {
		vals, err := fs.GetStringArray("stage")
		if err != nil {
			return err
		}
		stages := make([]Stage, 0, len(vals))
		for _, v := range vals {
			stage, err := ParseStage(v)
			if err != nil {
				return fmt.Errorf("--stage: %w", err)
			}
			stages = append(stages, stage)
		}
		cfg.Stages = stages
	}
	if fs.Changed("vus") {
		vus, err := fs.GetInt("vus")
		if err != nil {
			return err
		}
		cfg.VUs = vus
	}
	if fs.Changed("duration") {
		dur, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = dur
	}
	// A complete shorthand replaces any stages inherited from a profile or file.
	if (fs.Changed("vus") || fs.Changed("duration")) && !fs.Changed("stage") && cfg.VUs > 0 && cfg.Duration > 0 {
		cfg.Stages = nil
	}
	if fs.Changed("start-vus") {
		val, err := fs.GetInt("start-vus")
		if err != nil {
			return err
		}
		cfg.StartVUs = val
	}
	if fs.Changed("rps") {
		val, err := fs.GetInt("rps")
		if err != nil {
			return err
		}
		cfg.RPS = val
	}
	if fs.Changed("graceful-ramp-down") {
		val, err := fs.GetDuration("graceful-ramp-down")
		if err != nil {
			return err
		}
		cfg.GracefulRampDown = val
	}
	if fs.Changed("graceful-stop") {
		val, err := fs.GetDuration("graceful-stop")
		if err != nil {
			return err
		}
		cfg.GracefulStop = val
	}
	if fs.Changed("sleep-min") {
		val, err := fs.GetDuration("sleep-min")
		if err != nil {
			return err
		}
		cfg.Sleep.Min = val
	}
	if fs.Changed("sleep-max") {
		val, err := fs.GetDuration("sleep-max")
		if err != nil {
			return err
		}
		cfg.Sleep.Max = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("html-output") {
		val, err := fs.GetString("html-output")
		if err != nil {
			return err
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if fs.Changed("host-stats") {
		val, err := fs.GetBool("host-stats")
		if err != nil {
			return err
		}
		cfg.HostStats = val
	}

	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-errors") {
		val, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.Log.Errors = val
	}

	if fs.Changed("tracing") {
		val, err := fs.GetBool("tracing")
		if err != nil {
			return err
		}
		cfg.Tracing.Enabled = val
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	if fs.Changed("otlp-metrics-endpoint") {
		val, err := fs.GetString("otlp-metrics-endpoint")
		if err != nil {
			return err
		}
		cfg.Telemetry.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("otlp-metrics-protocol") {
		val, err := fs.GetString("otlp-metrics-protocol")
		if err != nil {
			return err
		}
		cfg.Telemetry.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("otlp-metrics-insecure") {
		val, err := fs.GetBool("otlp-metrics-insecure")
		if err != nil {
			return err
		}
		cfg.Telemetry.Insecure = val
	}
	if fs.Changed("otlp-metrics-interval") {
		val, err := fs.GetDuration("otlp-metrics-interval")
		if err != nil {
			return err
		}
		cfg.Telemetry.Interval = val
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.Telemetry.MetricsAddr = strings.TrimSpace(val)
	}

	if fs.Changed("history-file") {
		val, err := fs.GetString("history-file")
		if err != nil {
			return err
		}
		cfg.History.File = strings.TrimSpace(val)
	}
	if fs.Changed("list-history") {
		val, err := fs.GetInt("list-history")
		if err != nil {
			return err
		}
		cfg.History.List = val
	}

	return nil
}

func applyAuthFlags(a *AuthConfig, fs *pflag.FlagSet) error {
	strFlags := []struct {
		name string
		dst  *string
	}{
		{"auth-token", &a.StaticToken},
		{"auth-token-url", &a.TokenURL},
		{"auth-client-id", &a.ClientID},
		{"auth-client-secret", &a.ClientSecret},
		{"auth-username", &a.Username},
		{"auth-password", &a.Password},
	}
	for _, f := range strFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}
	if fs.Changed("auth-type") {
		val, err := fs.GetString("auth-type")
		if err != nil {
			return err
		}
		a.Type = AuthType(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("auth-scope") {
		val, err := fs.GetStringSlice("auth-scope")
		if err != nil {
			return err
		}
		a.Scopes = val
	}
	return nil
}
