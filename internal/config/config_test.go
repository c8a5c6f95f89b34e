package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// pipelineOptions mirrors the shape of the Options struct in main.go.
type pipelineOptions struct {
	Config string `help:"Config file path"`

	Port            string        `toml:"server.port" env:"SERVER_PORT"`
	Execution       string        `toml:"pipeline.execution" env:"PIPELINE_EXECUTION"`
	AutoReconnect   bool          `toml:"pipeline.auto_reconnect" env:"PIPELINE_AUTO_RECONNECT"`
	ChannelCapacity int           `toml:"pipeline.channel_capacity" env:"PIPELINE_CHANNEL_CAPACITY"`
	StopGrace       time.Duration `toml:"pipeline.stop_grace" env:"PIPELINE_STOP_GRACE"`
	TimingBase      time.Duration `toml:"timing.base" env:"TIMING_BASE"`
	PatternFPS      float64       `toml:"pattern.fps" env:"PATTERN_FPS"`
	Tags            []string      `toml:"sources.tags" env:"SOURCES_TAGS"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[server]
port = ":9000"

[pipeline]
execution = "process"
auto_reconnect = true
channel_capacity = 5
stop_grace = "3s"

[timing]
base = 30

[pattern]
fps = 59.94

[sources]
tags = ["studio", "remote"]
`)

	opts := &pipelineOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := pipelineOptions{
		Config:          path,
		Port:            ":9000",
		Execution:       "process",
		AutoReconnect:   true,
		ChannelCapacity: 5,
		StopGrace:       3 * time.Second,
		TimingBase:      30 * time.Millisecond,
		PatternFPS:      59.94,
		Tags:            []string{"studio", "remote"},
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("LoadConfig =\n%+v\nwant\n%+v", *opts, want)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("RETURNFEED_PIPELINE_EXECUTION", "process")
	t.Setenv("RETURNFEED_PIPELINE_CHANNEL_CAPACITY", "4")
	t.Setenv("RETURNFEED_PIPELINE_STOP_GRACE", "750ms")
	t.Setenv("RETURNFEED_PATTERN_FPS", "25")
	t.Setenv("RETURNFEED_SOURCES_TAGS", " a , b ")

	opts := &pipelineOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Execution != "process" || opts.ChannelCapacity != 4 {
		t.Errorf("unexpected values: %+v", opts)
	}
	if opts.StopGrace != 750*time.Millisecond {
		t.Errorf("StopGrace = %v, want 750ms", opts.StopGrace)
	}
	if opts.PatternFPS != 25 {
		t.Errorf("PatternFPS = %v, want 25", opts.PatternFPS)
	}
	if !reflect.DeepEqual(opts.Tags, []string{"a", "b"}) {
		t.Errorf("Tags = %v", opts.Tags)
	}
}

func TestLoadConfigInvalidEnvValue(t *testing.T) {
	t.Setenv("RETURNFEED_PIPELINE_STOP_GRACE", "soon")
	if err := LoadConfig(&pipelineOptions{}, nil); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadConfigEnvOverridesToml(t *testing.T) {
	path := writeConfig(t, `
[pipeline]
execution = "goroutine"
channel_capacity = 3
`)
	t.Setenv("RETURNFEED_PIPELINE_EXECUTION", "process")

	opts := &pipelineOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Execution != "process" {
		t.Errorf("env should override TOML, got %q", opts.Execution)
	}
	if opts.ChannelCapacity != 3 {
		t.Errorf("TOML value should apply without env override, got %d", opts.ChannelCapacity)
	}
}

func TestLoadConfigCLIFlagWins(t *testing.T) {
	path := writeConfig(t, `
[pipeline]
execution = "goroutine"
`)
	t.Setenv("RETURNFEED_PIPELINE_EXECUTION", "goroutine")

	opts := &pipelineOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&opts.Execution, "execution", "goroutine", "")
	if err := cmd.Flags().Set("execution", "process"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Execution != "process" {
		t.Errorf("explicit flag should win, got %q", opts.Execution)
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{"value": "nested_value"},
			"simple": "simple_value",
		},
		"root": "root_value",
	}

	tests := []struct {
		path     string
		expected any
	}{
		{"root", "root_value"},
		{"level1.simple", "simple_value"},
		{"level1.level2.value", "nested_value"},
		{"nonexistent", nil},
		{"root.child", nil},
	}

	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.expected {
			t.Errorf("getNestedValue(%q) = %v, expected %v", tt.path, got, tt.expected)
		}
	}
}

func TestFieldNameToFlag(t *testing.T) {
	if got := fieldNameToFlag("PipelineStopGrace"); got != "pipeline-stop-grace" {
		t.Errorf("got %q", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &pipelineOptions{Config: "nonexistent_file.toml"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeConfig(t, "[pipeline\ninvalid toml syntax\n")
	if err := LoadConfig(&pipelineOptions{Config: path}, nil); err == nil {
		t.Fatal("LoadConfig should fail for invalid TOML")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"
format = "json"
output = "stderr"
capture = "warn"
pacing = "error"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" || cfg.Output != "stderr" {
		t.Errorf("unexpected globals: %+v", cfg)
	}
	if cfg.Modules["capture"] != "warn" || cfg.Modules["pacing"] != "error" {
		t.Errorf("unexpected module levels: %+v", cfg.Modules)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" {
		t.Errorf("unexpected defaults: %+v", def)
	}
}
