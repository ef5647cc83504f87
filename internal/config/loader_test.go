package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second}, // int treated as seconds
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		input   string
		want    Stage
		wantErr bool
	}{
		{"1m:2", Stage{Duration: time.Minute, Target: 2}, false},
		{" 30s : 0 ", Stage{Duration: 30 * time.Second, Target: 0}, false},
		{"1m", Stage{}, true},
		{"soon:2", Stage{}, true},
		{"1m:many", Stage{}, true},
	}

	for _, tt := range tests {
		got, err := ParseStage(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStage(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStage(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := defaults()
	settings := map[string]interface{}{
		"base_url": "http://example.com",
		"rps":      10,
		"timeout":  "5s",
		"headers": map[string]interface{}{
			"content-type": "application/json",
		},
		"stages": []interface{}{
			map[string]interface{}{"duration": "1m", "target": 2},
			"30s:0",
		},
		"sleep": map[string]interface{}{"max": "2s"},
		"checks": []interface{}{
			map[string]interface{}{"type": "status", "status": 204},
		},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.BaseURL != "http://example.com" {
		t.Errorf("BaseURL = %q, want http://example.com", cfg.BaseURL)
	}
	if cfg.RPS != 10 {
		t.Errorf("RPS = %d, want 10", cfg.RPS)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Headers["Content-Type"] != "application/json" {
		t.Errorf("Headers[Content-Type] = %q, want application/json", cfg.Headers["Content-Type"])
	}
	wantStages := []Stage{{Duration: time.Minute, Target: 2}, {Duration: 30 * time.Second, Target: 0}}
	if len(cfg.Stages) != 2 || cfg.Stages[0] != wantStages[0] || cfg.Stages[1] != wantStages[1] {
		t.Errorf("Stages = %+v, want %+v", cfg.Stages, wantStages)
	}
	if cfg.Sleep.Min != time.Second || cfg.Sleep.Max != 2*time.Second {
		t.Errorf("Sleep = %+v, want min 1s max 2s", cfg.Sleep)
	}
	if len(cfg.Checks) != 1 || cfg.Checks[0].Status != 204 {
		t.Errorf("Checks = %+v", cfg.Checks)
	}
}

func TestApplyConfigSettingsShorthandClearsStages(t *testing.T) {
	cfg := defaults()
	cfg.Stages = []Stage{{Duration: time.Minute, Target: 2}}
	if err := applyConfigSettings(cfg, map[string]interface{}{"vus": 3, "duration": "10s"}); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}
	if len(cfg.Stages) != 0 {
		t.Fatalf("expected inherited stages to be cleared, got %+v", cfg.Stages)
	}
	if got := cfg.EffectiveStages(); len(got) != 1 || got[0].Target != 3 || got[0].Duration != 10*time.Second {
		t.Fatalf("EffectiveStages() = %+v", got)
	}
}

func TestParseThresholds(t *testing.T) {
	mapForm := map[string]interface{}{
		"http_req_failed":   []interface{}{"rate<0.01"},
		"http_req_duration": []interface{}{"p(95)<200", "avg<100"},
	}
	got, err := parseThresholds(mapForm)
	if err != nil {
		t.Fatalf("parseThresholds(map) error = %v", err)
	}
	want := []string{"http_req_duration:p(95)<200", "http_req_duration:avg<100", "http_req_failed:rate<0.01"}
	if len(got) != len(want) {
		t.Fatalf("parseThresholds(map) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseThresholds(map)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	flat, err := parseThresholds([]interface{}{"http_req_duration:p95 < 500"})
	if err != nil || len(flat) != 1 || flat[0] != "http_req_duration:p95 < 500" {
		t.Fatalf("parseThresholds(list) = %v, %v", flat, err)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := defaults()
	cfg.Stages = []Stage{{Duration: time.Minute, Target: 8}}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--base-url=http://example.com",
		"--stage=10s:1",
		"--stage=20s:0",
		"--rps=5",
		"--header=X-Test=123",
		"--log-level=DEBUG",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.BaseURL != "http://example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[1].Duration != 20*time.Second {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if cfg.RPS != 5 {
		t.Errorf("RPS = %d, want 5", cfg.RPS)
	}
	if cfg.Headers["X-Test"] != "123" {
		t.Errorf("Headers[X-Test] = %q, want 123", cfg.Headers["X-Test"])
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestApplyFlagOverridesInvalidStage(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)
	if err := fs.Parse([]string{"--stage=forever"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := applyFlagOverrides(defaults(), fs); err == nil {
		t.Fatal("expected error for malformed stage")
	}
}

func TestProfilesEmbedded(t *testing.T) {
	names := Profiles()
	if len(names) != 2 || names[0] != "default" || names[1] != "strict" {
		t.Fatalf("Profiles() = %v, want [default strict]", names)
	}
	if _, err := profileSettings("nope"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
