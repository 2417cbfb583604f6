package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Ayush1832/tg-escrow-bot-sub001/crypto"
)

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET", "")
	stderr := &bytes.Buffer{}
	code := run([]string{"token", "--secret-env", "ESCROW_TEST_SECRET", "--account", crypto.FormatAccount([20]byte{1})}, &bytes.Buffer{}, stderr)
	if code != 1 || stderr.String() != "Error: ESCROW_TEST_SECRET is not set\n" {
		t.Fatalf("unexpected result %d %q", code, stderr.String())
	}
}

func TestTokenRejectsBadAccount(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET", "0123456789abcdef")
	stderr := &bytes.Buffer{}
	code := run([]string{"token", "--secret-env", "ESCROW_TEST_SECRET", "--account", "nope"}, &bytes.Buffer{}, stderr)
	if code != 1 || !strings.HasPrefix(stderr.String(), "Error: --account: ") {
		t.Fatalf("unexpected result %d %q", code, stderr.String())
	}
}

func TestTokenPassesClaims(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET", "0123456789abcdef")
	account := [20]byte{0x42}
	original := issueToken
	defer func() { issueToken = original }()
	issueToken = func(secret string, got [20]byte, scopes []string, issuer, audience string, ttl time.Duration) (string, error) {
		if secret != "0123456789abcdef" || got != account {
			t.Fatalf("unexpected secret or account")
		}
		if strings.Join(scopes, " ") != "escrow.transport escrow.operator" {
			t.Fatalf("unexpected scopes %v", scopes)
		}
		if issuer != "ops" || audience != "escrowd" || ttl != 30*time.Minute {
			t.Fatalf("unexpected claims %q %q %s", issuer, audience, ttl)
		}
		return "signed", nil
	}
	stdout := &bytes.Buffer{}
	args := []string{
		"token",
		"--secret-env", "ESCROW_TEST_SECRET",
		"--account", crypto.FormatAccount(account),
		"--scopes", "escrow.transport,escrow.operator",
		"--issuer", "ops",
		"--audience", "escrowd",
		"--ttl", "30m",
	}
	if code := run(args, stdout, &bytes.Buffer{}); code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}
	if stdout.String() != "signed\n" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
}

func TestKeygenPrintsAccount(t *testing.T) {
	stdout := &bytes.Buffer{}
	if code := run([]string{"keygen"}, stdout, &bytes.Buffer{}); code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected output %q", stdout.String())
	}
	account := strings.TrimPrefix(lines[0], "account: ")
	if _, err := crypto.ParseAccount(account); err != nil {
		t.Fatalf("keygen printed unparseable account %q: %v", account, err)
	}
	if key := strings.TrimPrefix(lines[1], "private key: "); len(key) != 64 {
		t.Fatalf("unexpected private key length %d", len(key))
	}
}

func TestKeygenSealsToKeystore(t *testing.T) {
	origSeal, origSecret := sealKey, keystoreSecret
	defer func() { sealKey, keystoreSecret = origSeal, origSecret }()
	keystoreSecret = func() (string, error) { return "pw", nil }
	var sealedPath string
	sealKey = func(path string, key *crypto.PrivateKey, passphrase string, strength crypto.ScryptStrength) error {
		if passphrase != "pw" || strength != crypto.StandardScrypt || key == nil {
			t.Fatalf("unexpected seal arguments")
		}
		sealedPath = path
		return nil
	}
	stdout := &bytes.Buffer{}
	if code := run([]string{"keygen", "--keystore", "keys/op.json"}, stdout, &bytes.Buffer{}); code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}
	if sealedPath != "keys/op.json" {
		t.Fatalf("unexpected keystore path %q", sealedPath)
	}
	if strings.Contains(stdout.String(), "private key") {
		t.Fatalf("sealed key must not be printed: %q", stdout.String())
	}
	if !strings.HasSuffix(stdout.String(), "keystore: keys/op.json\n") {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
}

func TestKeygenReportsPassphraseError(t *testing.T) {
	origSecret := keystoreSecret
	defer func() { keystoreSecret = origSecret }()
	keystoreSecret = func() (string, error) { return "", errors.New("no terminal") }
	stderr := &bytes.Buffer{}
	if code := run([]string{"keygen", "--keystore", "k.json"}, &bytes.Buffer{}, stderr); code != 1 {
		t.Fatalf("unexpected exit code %d", code)
	}
	if stderr.String() != "Error: no terminal\n" {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}
