package minerd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minerd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
arbiter: https://arbiter.example:8547
data_dir: /var/lib/minerd
poll_interval: 2s
entries: 3
skills:
  roots: [1]
  edges:
    - {skill: 2, parent: 1}
    - {skill: 3, parent: 2}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval.Duration != 2*time.Second {
		t.Fatalf("poll interval %s", cfg.PollInterval)
	}
	if cfg.RequestTimeout.Duration != 10*time.Second {
		t.Fatalf("request timeout default not applied: %s", cfg.RequestTimeout)
	}
	if cfg.Keystore.Path != filepath.Join("/var/lib/minerd", "miner.keystore") {
		t.Fatalf("keystore path %q", cfg.Keystore.Path)
	}
	if cfg.Backend != "bolt" || cfg.Entries != 3 {
		t.Fatalf("unexpected backend %q entries %d", cfg.Backend, cfg.Entries)
	}
	tree, err := cfg.Skills.Tree()
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	parents, err := tree.Parents(3)
	if err != nil || len(parents) != 2 || parents[0] != 2 || parents[1] != 1 {
		t.Fatalf("parents of 3: %v %v", parents, err)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"scheme":       {body: "arbiter: tcp://127.0.0.1:1\n", want: "http(s)"},
		"unknownField": {body: "arbitr: http://x\n", want: "decode config"},
		"badDuration":  {body: "poll_interval: soon\n", want: "parse duration"},
		"decay":        {body: "decay: {numerator: 5, denominator: 4}\n", want: "decay"},
		"orphanSkill":  {body: "skills: {roots: [1], edges: [{skill: 3, parent: 2}]}\n", want: "skills"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
