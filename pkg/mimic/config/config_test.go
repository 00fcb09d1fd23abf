package config

import (
	"testing"
	"time"
)

func TestParseOverlaysDefaults(t *testing.T) {
	yaml := `
nicknames: ["milo", "milinho"]
api:
  model: some-model
  temperature: 0.8
history:
  length: 25
chances:
  typo: 0.1
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Nicknames) != 2 || cfg.Nicknames[0] != "milo" {
		t.Fatalf("nicknames = %v", cfg.Nicknames)
	}
	if cfg.API.Model != "some-model" {
		t.Fatalf("model = %q", cfg.API.Model)
	}
	if cfg.History.Length != 25 {
		t.Fatalf("history length = %d", cfg.History.Length)
	}
	// Untouched fields keep their defaults.
	if cfg.History.GroupLimit != 5 {
		t.Fatalf("group limit = %d, want default 5", cfg.History.GroupLimit)
	}
	if cfg.API.BaseURL == "" {
		t.Fatal("base URL default lost")
	}
	if cfg.Tasks.PingQueue != 2 || cfg.Tasks.WorkQueue != 3 || cfg.Tasks.DeadChatQueue != 1 {
		t.Fatalf("task queues = %+v", cfg.Tasks)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MIMIC_TEST_MODEL", "from-env")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "model: ${MIMIC_TEST_MODEL}", "model: from-env"},
		{"bare", "model: $MIMIC_TEST_MODEL", "model: from-env"},
		{"default used", "model: ${MIMIC_TEST_UNSET:-fallback}", "model: fallback"},
		{"default unused", "model: ${MIMIC_TEST_MODEL:-fallback}", "model: from-env"},
		{"unset empty", "model: ${MIMIC_TEST_UNSET}", "model: "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := expandEnvVars(tc.in); got != tc.want {
				t.Fatalf("expandEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("zero history length rejected", func(t *testing.T) {
		cfg := Default()
		cfg.History.Length = 0
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("out of range chance rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Chances.Typo = 1.5
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("revive without channels rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Revive.Enabled = true
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestDelayWindowPick(t *testing.T) {
	w := DelayWindow{MinMs: 100, MaxMs: 200}
	for i := 0; i < 50; i++ {
		d := w.Pick()
		if d < 100*time.Millisecond || d >= 200*time.Millisecond {
			t.Fatalf("pick %v outside window", d)
		}
	}

	fixed := DelayWindow{MinMs: 40}
	if got := fixed.Pick(); got != 40*time.Millisecond {
		t.Fatalf("degenerate window pick = %v", got)
	}
}
