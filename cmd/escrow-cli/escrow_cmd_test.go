package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const (
	testSeller = "esc-seller"
	testBuyer  = "esc-buyer"
	testAdmin  = "esc-admin"
)

var testTradeID = strings.Repeat("ab", 32)

func stubAPI(t *testing.T, fn func(method, path string, body any) (json.RawMessage, *apiError, error)) {
	t.Helper()
	original := escrowAPICall
	escrowAPICall = fn
	t.Cleanup(func() { escrowAPICall = original })
}

func noAPI(t *testing.T) {
	stubAPI(t, func(method, path string, body any) (json.RawMessage, *apiError, error) {
		t.Fatalf("unexpected API call %s %s", method, path)
		return nil, nil, nil
	})
}

func readGolden(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read golden %s: %v", name, err)
	}
	return string(data)
}

func TestCommandArgValidation(t *testing.T) {
	noAPI(t)
	cases := []struct {
		name       string
		args       []string
		wantGolden string
		wantStderr string
	}{
		{name: "usage", args: nil, wantGolden: "usage.golden"},
		{name: "unknown", args: []string{"bogus"}, wantGolden: "unknown.golden"},
		{
			name:       "create_missing_seller",
			args:       []string{"create", "--buyer", testBuyer, "--admin", testAdmin, "--asset", "usdt"},
			wantStderr: "Error: --seller is required\n",
		},
		{
			name: "create_fractional_amount",
			args: []string{"create", "--seller", testSeller, "--buyer", testBuyer, "--admin", testAdmin,
				"--asset", "usdt", "--amount", "1.5"},
			wantStderr: "Error: --amount must be an integer number of base units\n",
		},
		{
			name: "create_commission_too_high",
			args: []string{"create", "--seller", testSeller, "--buyer", testBuyer, "--admin", testAdmin,
				"--asset", "usdt", "--amount", "1000", "--commission-bps", "10001"},
			wantStderr: "Error: --commission-bps must be <= 10000\n",
		},
		{
			name: "create_two_fee_recipients",
			args: []string{"create", "--seller", testSeller, "--buyer", testBuyer, "--admin", testAdmin,
				"--asset", "usdt", "--amount", "1000", "--commission-bps", "250", "--fee-recipients", "a,b"},
			wantStderr: "Error: --fee-recipients must list exactly three accounts\n",
		},
		{
			name:       "status_short_id",
			args:       []string{"status", "--id", "0x1234"},
			wantStderr: "Error: --id must be a 32-byte hex string\n",
		},
		{
			name:       "confirm_missing_id",
			args:       []string{"confirm"},
			wantStderr: "Error: --id is required\n",
		},
		{
			name:       "resolve_bad_outcome",
			args:       []string{"resolve", "--id", testTradeID, "--outcome", "admin"},
			wantStderr: "Error: --outcome must be buyer or seller\n",
		},
		{
			name:       "deposit_missing_sender",
			args:       []string{"deposit", "--id", testTradeID, "--amount", "1000", "--subaccount", "esc-sub"},
			wantStderr: "Error: --sender is required\n",
		},
		{
			name:       "positional",
			args:       []string{"list", "extra"},
			wantStderr: "Error: unexpected positional arguments\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			if code := run(tc.args, stdout, stderr); code != 1 {
				t.Fatalf("unexpected exit code %d", code)
			}
			if stdout.Len() != 0 {
				t.Fatalf("expected empty stdout, got %q", stdout.String())
			}
			want := tc.wantStderr
			if tc.wantGolden != "" {
				want = readGolden(t, tc.wantGolden)
			}
			if stderr.String() != want {
				t.Fatalf("stderr mismatch:\n--- got ---\n%q\n--- want ---\n%q", stderr.String(), want)
			}
		})
	}
}

func TestCreateSendsRequest(t *testing.T) {
	originalNow := escrowNow
	escrowNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { escrowNow = originalNow }()

	stubAPI(t, func(method, path string, body any) (json.RawMessage, *apiError, error) {
		if method != http.MethodPost || path != "/v1/trades" {
			t.Fatalf("unexpected call %s %s", method, path)
		}
		want := map[string]any{
			"seller":         testSeller,
			"buyer":          testBuyer,
			"admin":          testAdmin,
			"asset":          "USDT",
			"amount":         "1000000000",
			"commission_bps": uint64(250),
			"fee_recipients": []string{"f1", "f2", "f3"},
			"deadline":       int64(1_700_000_000 + 2*86400),
			"nonce":          "0a0b",
		}
		if !reflect.DeepEqual(body, want) {
			t.Fatalf("unexpected body:\n got %#v\nwant %#v", body, want)
		}
		return json.RawMessage(`{"id":"` + testTradeID + `","status":"pending_deposit"}`), nil, nil
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{
		"create",
		"--seller", testSeller,
		"--buyer", testBuyer,
		"--admin", testAdmin,
		"--asset", "usdt",
		"--amount", "1_000e6",
		"--commission-bps", "250",
		"--fee-recipients", "f1, f2 ,f3",
		"--deadline", "+2d",
		"--nonce", "0x0A0B",
	}
	if code := run(args, stdout, stderr); code != 0 {
		t.Fatalf("unexpected exit code %d: %s", code, stderr.String())
	}
	want := "{\n  \"id\": \"" + testTradeID + "\",\n  \"status\": \"pending_deposit\"\n}\n"
	if stdout.String() != want {
		t.Fatalf("unexpected stdout: got %q, want %q", stdout.String(), want)
	}
}

func TestTradeActionPaths(t *testing.T) {
	cases := []struct {
		args []string
		path string
		body any
	}{
		{args: []string{"status", "--id", "0x" + strings.ToUpper(testTradeID)}, path: "/v1/trades/" + testTradeID},
		{args: []string{"status", "--id", testTradeID, "--audit"}, path: "/v1/trades/" + testTradeID + "/audit"},
		{args: []string{"list"}, path: "/v1/trades"},
		{args: []string{"confirm", "--id", testTradeID}, path: "/v1/trades/" + testTradeID + "/confirm"},
		{args: []string{"dispute", "--id", testTradeID}, path: "/v1/trades/" + testTradeID + "/dispute"},
		{args: []string{"cancel", "--id", testTradeID}, path: "/v1/trades/" + testTradeID + "/cancel"},
		{args: []string{"claim", "--id", testTradeID}, path: "/v1/trades/" + testTradeID + "/claim"},
		{args: []string{"retry", "--id", testTradeID}, path: "/v1/trades/" + testTradeID + "/retry"},
		{args: []string{"withdraw", "--id", testTradeID}, path: "/v1/trades/" + testTradeID + "/emergency-withdraw"},
		{
			args: []string{"withdraw", "--id", testTradeID, "--recipient", testAdmin},
			path: "/v1/trades/" + testTradeID + "/emergency-withdraw",
			body: map[string]any{"account": testAdmin},
		},
		{
			args: []string{"resolve", "--id", testTradeID, "--outcome", "Buyer"},
			path: "/v1/trades/" + testTradeID + "/resolve",
			body: map[string]any{"outcome": "buyer"},
		},
		{
			args: []string{"bind", "--id", testTradeID, "--account", "esc-sub"},
			path: "/v1/trades/" + testTradeID + "/deposit-account",
			body: map[string]any{"account": "esc-sub"},
		},
		{
			args: []string{"deposit", "--id", testTradeID, "--amount", "1e3", "--sender", testBuyer, "--subaccount", "esc-sub"},
			path: "/v1/trades/" + testTradeID + "/deposits",
			body: map[string]any{"amount": "1000", "sender": testBuyer, "subaccount": "esc-sub"},
		},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args[:1], "_"), func(t *testing.T) {
			var gotPath string
			var gotBody any
			stubAPI(t, func(method, path string, body any) (json.RawMessage, *apiError, error) {
				gotPath, gotBody = path, body
				return nil, nil, nil
			})
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			if code := run(tc.args, stdout, stderr); code != 0 {
				t.Fatalf("unexpected exit code %d: %s", code, stderr.String())
			}
			if gotPath != tc.path {
				t.Fatalf("unexpected path %q, want %q", gotPath, tc.path)
			}
			if !reflect.DeepEqual(gotBody, tc.body) {
				t.Fatalf("unexpected body %#v, want %#v", gotBody, tc.body)
			}
			if stdout.String() != "ok\n" {
				t.Fatalf("unexpected stdout %q", stdout.String())
			}
		})
	}
}

func TestAPIErrors(t *testing.T) {
	t.Run("api_error", func(t *testing.T) {
		stubAPI(t, func(string, string, any) (json.RawMessage, *apiError, error) {
			return nil, &apiError{Status: http.StatusConflict, Message: "escrow: invalid status transition"}, nil
		})
		stderr := &bytes.Buffer{}
		if code := run([]string{"confirm", "--id", testTradeID}, &bytes.Buffer{}, stderr); code != 1 {
			t.Fatalf("unexpected exit code %d", code)
		}
		if want := "API error 409: escrow: invalid status transition\n"; stderr.String() != want {
			t.Fatalf("unexpected stderr %q", stderr.String())
		}
	})
	t.Run("transport_error", func(t *testing.T) {
		stubAPI(t, func(string, string, any) (json.RawMessage, *apiError, error) {
			return nil, nil, errors.New("connection refused")
		})
		stderr := &bytes.Buffer{}
		if code := run([]string{"list"}, &bytes.Buffer{}, stderr); code != 1 {
			t.Fatalf("unexpected exit code %d", code)
		}
		if want := "Request failed: connection refused\n"; stderr.String() != want {
			t.Fatalf("unexpected stderr %q", stderr.String())
		}
	})
}

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "100", want: "100"},
		{input: "00100", want: "100"},
		{input: "1_000", want: "1000"},
		{input: "100e6", want: "100000000"},
		{input: "0.5e6", want: "500000"},
		{input: "1.0", want: "1"},
		{input: "1.23e-1", wantErr: true},
		{input: "1.5", wantErr: true},
		{input: "-10", wantErr: true},
		{input: "0", wantErr: true},
		{input: "1.2.3", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := normalizeAmount(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q (%v), want %q", got, err, tc.want)
			}
		})
	}
}

func TestParseDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "+1h", want: 1_700_003_600},
		{input: "+1.5d", want: 1_700_000_000 + 36*3600},
		{input: "2023-11-14T22:13:20Z", want: 1_700_000_000},
		{input: "+0s", wantErr: true},
		{input: "+xd", wantErr: true},
		{input: "tomorrow", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := parseDeadline(tc.input, now)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %d (%v), want %d", got, err, tc.want)
			}
		})
	}
}
