package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestGetEnv(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		os.Unsetenv("AION_TEST_GETENV_UNSET")
		got := GetEnv("AION_TEST_GETENV_UNSET", "default")
		if got != "default" {
			t.Errorf("GetEnv(unset) = %q, want %q", got, "default")
		}
	})

	t.Run("returns value when set", func(t *testing.T) {
		os.Setenv("AION_TEST_GETENV_SET", "myvalue")
		defer os.Unsetenv("AION_TEST_GETENV_SET")
		got := GetEnv("AION_TEST_GETENV_SET", "default")
		if got != "myvalue" {
			t.Errorf("GetEnv(set) = %q, want %q", got, "myvalue")
		}
	})

	t.Run("trims space", func(t *testing.T) {
		os.Setenv("AION_TEST_GETENV_TRIM", "  trimmed  ")
		defer os.Unsetenv("AION_TEST_GETENV_TRIM")
		got := GetEnv("AION_TEST_GETENV_TRIM", "default")
		if got != "trimmed" {
			t.Errorf("GetEnv(trim) = %q, want %q", got, "trimmed")
		}
	})
}

func TestGetEnvDuration(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		os.Unsetenv("AION_TEST_DURATION_UNSET")
		got := GetEnvDuration("AION_TEST_DURATION_UNSET", 5*time.Second)
		if got != 5*time.Second {
			t.Errorf("GetEnvDuration(unset) = %v, want 5s", got)
		}
	})

	t.Run("parses valid duration", func(t *testing.T) {
		os.Setenv("AION_TEST_DURATION_VALID", "250ms")
		defer os.Unsetenv("AION_TEST_DURATION_VALID")
		got := GetEnvDuration("AION_TEST_DURATION_VALID", time.Second)
		if got != 250*time.Millisecond {
			t.Errorf("GetEnvDuration(250ms) = %v, want 250ms", got)
		}
	})

	t.Run("returns default on invalid duration", func(t *testing.T) {
		os.Setenv("AION_TEST_DURATION_INVALID", "not-a-duration")
		defer os.Unsetenv("AION_TEST_DURATION_INVALID")
		got := GetEnvDuration("AION_TEST_DURATION_INVALID", 7*time.Second)
		if got != 7*time.Second {
			t.Errorf("GetEnvDuration(invalid) = %v, want 7s", got)
		}
	})
}

func TestGetEnvNumbers(t *testing.T) {
	os.Setenv("AION_TEST_FLOAT", "0.25")
	os.Setenv("AION_TEST_INT", "42")
	os.Setenv("AION_TEST_BOOL", "false")
	os.Setenv("AION_TEST_BAD", "x")
	defer func() {
		for _, k := range []string{"AION_TEST_FLOAT", "AION_TEST_INT", "AION_TEST_BOOL", "AION_TEST_BAD"} {
			os.Unsetenv(k)
		}
	}()

	if got := GetEnvFloat("AION_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("GetEnvFloat = %v, want 0.25", got)
	}
	if got := GetEnvFloat("AION_TEST_BAD", 1); got != 1 {
		t.Errorf("GetEnvFloat(invalid) = %v, want default", got)
	}
	if got := GetEnvInt("AION_TEST_INT", 1); got != 42 {
		t.Errorf("GetEnvInt = %d, want 42", got)
	}
	if got := GetEnvInt("AION_TEST_BAD", 3); got != 3 {
		t.Errorf("GetEnvInt(invalid) = %d, want default", got)
	}
	if got := GetEnvBool("AION_TEST_BOOL", true); got {
		t.Error("GetEnvBool = true, want false")
	}
	if got := GetEnvBool("AION_TEST_BAD", true); !got {
		t.Error("GetEnvBool(invalid) should return default")
	}
}

func TestDefault(t *testing.T) {
	for _, k := range []string{"TICK_INTERVAL", "SIM_LEVEL", "STATE_STORE", "HTTP_ADDR", "ALERT_WEBHOOK_URL"} {
		os.Unsetenv(k)
	}
	cfg := Default()
	if cfg.Kernel.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.Kernel.TickInterval)
	}
	if cfg.Kernel.SimLevel != "off" {
		t.Errorf("SimLevel = %q", cfg.Kernel.SimLevel)
	}
	if cfg.State.Backend != "file" {
		t.Errorf("Backend = %q", cfg.State.Backend)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Notify.Enabled {
		t.Error("Notify should be disabled when ALERT_WEBHOOK_URL is unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aion.yaml")
	data := `
kernel:
  tick_interval: 2s
  sim_level: high
state:
  backend: sqlite
  path: /var/lib/aion/state.db
notify:
  endpoint: https://alerts.example.com
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Kernel.AIEvery = 7
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Kernel.TickInterval != 2*time.Second {
		t.Errorf("TickInterval = %v, want 2s", cfg.Kernel.TickInterval)
	}
	if cfg.Kernel.SimLevel != "high" || cfg.State.Backend != "sqlite" {
		t.Errorf("overlay not applied: %+v", cfg)
	}
	if cfg.Kernel.AIEvery != 7 {
		t.Errorf("AIEvery = %d, keys absent from the file should be kept", cfg.Kernel.AIEvery)
	}
	if !cfg.Notify.Enabled {
		t.Error("an endpoint in the file should enable notify")
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aion.yaml")
	if err := os.WriteFile(path, []byte("kernel:\n  tick_rate: 1s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := cfg.LoadFile(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestAddFlags(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("aiond", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	if err := fs.Parse([]string{"--sim", "low", "--tick=100ms", "--state-store", "sqlite"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Kernel.SimLevel != "low" || cfg.Kernel.TickInterval != 100*time.Millisecond || cfg.State.Backend != "sqlite" {
		t.Errorf("flags not applied: sim=%q tick=%v store=%q", cfg.Kernel.SimLevel, cfg.Kernel.TickInterval, cfg.State.Backend)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Kernel.SimLevel = "extreme"
	cfg.Kernel.StatusEvery = 0
	cfg.State.Backend = "etcd"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"sim_level", "status_every", "state backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}
