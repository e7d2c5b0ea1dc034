package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	envVars := []string{
		"MIXENGINE_HELPER_PATH", "MIXENGINE_MONITOR_ADDR",
		"MIXENGINE_COMMAND_CHANNEL_CAPACITY", "MIXENGINE_CHUNK_CHANNEL_CAPACITY",
		"MIXENGINE_DECODER_STALL_TIMEOUT",
	}
	for _, k := range envVars {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.HelperPath != "" {
		t.Errorf("HelperPath = %q, want empty default", cfg.HelperPath)
	}
	if cfg.MonitorAddr != "" {
		t.Errorf("MonitorAddr = %q, want empty default (monitor disabled)", cfg.MonitorAddr)
	}
	if cfg.CommandChannelCapacity != 10 {
		t.Errorf("CommandChannelCapacity = %d, want 10", cfg.CommandChannelCapacity)
	}
	if cfg.ChunkChannelCapacity != 100 {
		t.Errorf("ChunkChannelCapacity = %d, want 100", cfg.ChunkChannelCapacity)
	}
	if cfg.DecoderStallTimeout != 30*time.Second {
		t.Errorf("DecoderStallTimeout = %v, want 30s", cfg.DecoderStallTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MIXENGINE_HELPER_PATH", "/opt/mixengine/helpers")
	t.Setenv("MIXENGINE_MONITOR_ADDR", ":9200")
	t.Setenv("MIXENGINE_COMMAND_CHANNEL_CAPACITY", "25")
	t.Setenv("MIXENGINE_CHUNK_CHANNEL_CAPACITY", "200")
	t.Setenv("MIXENGINE_DECODER_STALL_TIMEOUT", "45s")

	cfg := Load()

	if cfg.HelperPath != "/opt/mixengine/helpers" {
		t.Errorf("HelperPath = %q, want env override", cfg.HelperPath)
	}
	if cfg.MonitorAddr != ":9200" {
		t.Errorf("MonitorAddr = %q, want env override", cfg.MonitorAddr)
	}
	if cfg.CommandChannelCapacity != 25 {
		t.Errorf("CommandChannelCapacity = %d, want 25", cfg.CommandChannelCapacity)
	}
	if cfg.ChunkChannelCapacity != 200 {
		t.Errorf("ChunkChannelCapacity = %d, want 200", cfg.ChunkChannelCapacity)
	}
	if cfg.DecoderStallTimeout != 45*time.Second {
		t.Errorf("DecoderStallTimeout = %v, want 45s", cfg.DecoderStallTimeout)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("MIXENGINE_COMMAND_CHANNEL_CAPACITY", "not-a-number")
	cfg := Load()
	if cfg.CommandChannelCapacity != 10 {
		t.Errorf("Invalid int env should fallback to default: got %d, want 10", cfg.CommandChannelCapacity)
	}
}

func TestEnvDurationInvalidFallsBack(t *testing.T) {
	t.Setenv("MIXENGINE_DECODER_STALL_TIMEOUT", "not-a-duration")
	cfg := Load()
	if cfg.DecoderStallTimeout != 30*time.Second {
		t.Errorf("Invalid duration env should fallback to default: got %v, want 30s", cfg.DecoderStallTimeout)
	}
}

func TestEnvStrEmpty(t *testing.T) {
	os.Unsetenv("MIXENGINE_HELPER_PATH")
	cfg := Load()
	if cfg.HelperPath != "" {
		t.Errorf("Unset env should use fallback: got %q", cfg.HelperPath)
	}
}
