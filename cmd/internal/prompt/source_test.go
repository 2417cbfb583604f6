package prompt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, terminal bool, answer string, readErr error) (*Source, *bytes.Buffer) {
	var out bytes.Buffer
	s := NewSource("ESCROW_TOKEN", "bearer token")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return terminal }
	s.read = func() ([]byte, error) { return []byte(answer), readErr }
	s.out = &out
	return s, &out
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s, out := newTestSource(map[string]string{"ESCROW_TOKEN": " abc "}, true, "ignored", nil)
	got, err := s.Get()
	if err != nil || got != "abc" {
		t.Fatalf("expected env token, got %q (%v)", got, err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected prompt output %q", out.String())
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	s, _ := newTestSource(map[string]string{"ESCROW_TOKEN": "  "}, true, "x", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected blank env error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s, out := newTestSource(nil, true, "tok\n", nil)
	got, err := s.Get()
	if err != nil || got != "tok" {
		t.Fatalf("expected prompted token, got %q (%v)", got, err)
	}
	if !strings.Contains(out.String(), "Enter bearer token: ") {
		t.Fatalf("missing prompt: %q", out.String())
	}
	// cached
	s.read = func() ([]byte, error) { return nil, errors.New("read twice") }
	if again, err := s.Get(); err != nil || again != "tok" {
		t.Fatalf("expected cached token, got %q (%v)", again, err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s, _ := newTestSource(nil, false, "", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "ESCROW_TOKEN") {
		t.Fatalf("expected hint about env var, got %v", err)
	}
}

func TestSourceRejectsEmptyAnswer(t *testing.T) {
	s, _ := newTestSource(nil, true, "   ", nil)
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected empty answer to fail")
	}
}
