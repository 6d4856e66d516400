package passphrase

import (
	"bytes"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, tty bool, answer string) *Source {
	s := NewSource("MINER_PASS", "miner keystore")
	s.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	s.terminal = func() bool { return tty }
	s.read = func() ([]byte, error) { return []byte(answer), nil }
	s.prompt = &bytes.Buffer{}
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"MINER_PASS": "hunter2"}, true, "ignored")
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"MINER_PASS": "  "}, true, "ignored")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty variable error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s := newTestSource(nil, true, "typed")
	got, err := s.Get()
	if err != nil || got != "typed" {
		t.Fatalf("got %q, %v", got, err)
	}
	if !strings.Contains(s.prompt.(*bytes.Buffer).String(), "miner keystore passphrase") {
		t.Fatalf("prompt not written")
	}
	// The answer is cached.
	s.read = func() ([]byte, error) { return []byte("other"), nil }
	if again, _ := s.Get(); again != "typed" {
		t.Fatalf("passphrase re-read: %q", again)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := newTestSource(nil, false, "")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "MINER_PASS") {
		t.Fatalf("expected hint naming the variable, got %v", err)
	}
	blank := newTestSource(nil, true, " ")
	if _, err := blank.Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}
