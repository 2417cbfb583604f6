package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	escrowNow     = time.Now
	escrowAPICall = callEscrowAPI
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "create":
		return runCreate(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "list":
		return runList(args[1:], stdout, stderr)
	case "bind":
		return runBind(args[1:], stdout, stderr)
	case "deposit":
		return runDeposit(args[1:], stdout, stderr)
	case "confirm":
		return runTransition("confirm", "confirm", args[1:], stdout, stderr)
	case "dispute":
		return runTransition("dispute", "dispute", args[1:], stdout, stderr)
	case "cancel":
		return runTransition("cancel", "cancel", args[1:], stdout, stderr)
	case "claim":
		return runTransition("claim", "claim", args[1:], stdout, stderr)
	case "retry":
		return runTransition("retry", "retry", args[1:], stdout, stderr)
	case "resolve":
		return runResolve(args[1:], stdout, stderr)
	case "withdraw":
		return runWithdraw(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		seller         string
		buyer          string
		admin          string
		depositAccount string
		asset          string
		amountStr      string
		commissionStr  string
		feeRecipients  string
		deadline       string
		nonce          string
	)
	fs.StringVar(&seller, "seller", "", "seller bech32 account")
	fs.StringVar(&buyer, "buyer", "", "buyer bech32 account")
	fs.StringVar(&admin, "admin", "", "admin bech32 account")
	fs.StringVar(&depositAccount, "deposit-account", "", "optional expected deposit account")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	fs.StringVar(&amountStr, "amount", "", "trade amount in base units (supports 100e6 shorthand)")
	fs.StringVar(&commissionStr, "commission-bps", "", "commission in basis points")
	fs.StringVar(&feeRecipients, "fee-recipients", "", "three comma-separated fee recipient accounts")
	fs.StringVar(&deadline, "deadline", "", "optional deadline as +duration or RFC3339 timestamp")
	fs.StringVar(&nonce, "nonce", "", "optional hex nonce; makes the request idempotent")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	for _, required := range []struct{ name, value string }{
		{"seller", seller}, {"buyer", buyer}, {"admin", admin}, {"asset", asset},
	} {
		if strings.TrimSpace(required.value) == "" {
			return printError(stderr, "--"+required.name+" is required")
		}
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if commissionStr == "" {
		return printError(stderr, "--commission-bps is required")
	}
	commission, err := strconv.ParseUint(commissionStr, 10, 32)
	if err != nil {
		return printError(stderr, "--commission-bps must be a non-negative integer")
	}
	if commission > 10_000 {
		return printError(stderr, "--commission-bps must be <= 10000")
	}
	recipients := splitList(feeRecipients)
	if len(recipients) != 3 {
		return printError(stderr, "--fee-recipients must list exactly three accounts")
	}
	body := map[string]any{
		"seller":         strings.TrimSpace(seller),
		"buyer":          strings.TrimSpace(buyer),
		"admin":          strings.TrimSpace(admin),
		"asset":          strings.ToUpper(strings.TrimSpace(asset)),
		"amount":         amount,
		"commission_bps": commission,
		"fee_recipients": recipients,
	}
	if strings.TrimSpace(depositAccount) != "" {
		body["deposit_account"] = strings.TrimSpace(depositAccount)
	}
	if strings.TrimSpace(deadline) != "" {
		unix, err := parseDeadline(deadline, escrowNow())
		if err != nil {
			return printError(stderr, err.Error())
		}
		body["deadline"] = unix
	}
	if strings.TrimSpace(nonce) != "" {
		cleaned, err := validateNonce(nonce)
		if err != nil {
			return printError(stderr, err.Error())
		}
		body["nonce"] = cleaned
	}
	return doCall(http.MethodPost, "/v1/trades", body, stdout, stderr)
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr)
	var (
		id    string
		audit bool
	)
	fs.StringVar(&id, "id", "", "trade identifier")
	fs.BoolVar(&audit, "audit", false, "show the audit trail instead (operator scope)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	cleaned, err := validateTradeID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	path := "/v1/trades/" + cleaned
	if audit {
		path += "/audit"
	}
	return doCall(http.MethodGet, path, nil, stdout, stderr)
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	return doCall(http.MethodGet, "/v1/trades", nil, stdout, stderr)
}

func runBind(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bind", stderr)
	var id, account string
	fs.StringVar(&id, "id", "", "trade identifier")
	fs.StringVar(&account, "account", "", "deposit account to bind")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	cleaned, err := validateTradeID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(account) == "" {
		return printError(stderr, "--account is required")
	}
	body := map[string]any{"account": strings.TrimSpace(account)}
	return doCall(http.MethodPost, "/v1/trades/"+cleaned+"/deposit-account", body, stdout, stderr)
}

func runDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deposit", stderr)
	var id, amountStr, sender, subaccount string
	fs.StringVar(&id, "id", "", "trade identifier")
	fs.StringVar(&amountStr, "amount", "", "deposited amount in base units")
	fs.StringVar(&sender, "sender", "", "account that sent the funds")
	fs.StringVar(&subaccount, "subaccount", "", "account that received the funds")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	cleaned, err := validateTradeID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(sender) == "" {
		return printError(stderr, "--sender is required")
	}
	if strings.TrimSpace(subaccount) == "" {
		return printError(stderr, "--subaccount is required")
	}
	body := map[string]any{
		"amount":     amount,
		"sender":     strings.TrimSpace(sender),
		"subaccount": strings.TrimSpace(subaccount),
	}
	return doCall(http.MethodPost, "/v1/trades/"+cleaned+"/deposits", body, stdout, stderr)
}

func runTransition(name, action string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	var id string
	fs.StringVar(&id, "id", "", "trade identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	cleaned, err := validateTradeID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return doCall(http.MethodPost, "/v1/trades/"+cleaned+"/"+action, nil, stdout, stderr)
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("resolve", stderr)
	var id, outcome string
	fs.StringVar(&id, "id", "", "trade identifier")
	fs.StringVar(&outcome, "outcome", "", "buyer or seller")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	cleaned, err := validateTradeID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalized := strings.ToLower(strings.TrimSpace(outcome))
	if normalized != "buyer" && normalized != "seller" {
		return printError(stderr, "--outcome must be buyer or seller")
	}
	body := map[string]any{"outcome": normalized}
	return doCall(http.MethodPost, "/v1/trades/"+cleaned+"/resolve", body, stdout, stderr)
}

func runWithdraw(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("withdraw", stderr)
	var id, recipient string
	fs.StringVar(&id, "id", "", "trade identifier")
	fs.StringVar(&recipient, "recipient", "", "optional recipient; defaults to the admin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	cleaned, err := validateTradeID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var body any
	if strings.TrimSpace(recipient) != "" {
		body = map[string]any{"account": strings.TrimSpace(recipient)}
	}
	return doCall(http.MethodPost, "/v1/trades/"+cleaned+"/emergency-withdraw", body, stdout, stderr)
}

func doCall(method, path string, body any, stdout, stderr io.Writer) int {
	result, apiErr, err := escrowAPICall(method, path, body)
	if err != nil {
		fmt.Fprintf(stderr, "Request failed: %v\n", err)
		return 1
	}
	if apiErr != nil {
		fmt.Fprintf(stderr, "API error %d: %s\n", apiErr.Status, apiErr.Message)
		return 1
	}
	writeResult(stdout, result)
	return 0
}

func writeResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "ok")
		return
	}
	var pretty any
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	encoded, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(w, string(encoded))
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of escrow-cli %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// normalizeAmount accepts an integer amount with optional underscores and a
// positive exponent, and returns its plain decimal form.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("--amount is required")
	}
	base, exponent := trimmed, 0
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		exp, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in --amount")
		}
		exponent = int(exp)
	}
	base = strings.TrimPrefix(base, "+")
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("--amount must be positive")
	}
	integer, fraction, _ := strings.Cut(base, ".")
	if strings.Contains(fraction, ".") {
		return "", fmt.Errorf("invalid amount format")
	}
	digits := integer + fraction
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid amount format")
	}
	fracLen := len(fraction)
	for fracLen > 0 && strings.HasSuffix(digits, "0") {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	shift := exponent - fracLen
	if shift < 0 {
		return "", fmt.Errorf("--amount must be an integer number of base units")
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "", fmt.Errorf("--amount must be positive")
	}
	return digits + strings.Repeat("0", shift), nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseDeadline(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "+"); ok {
		dur, err := parseDuration(strings.TrimSpace(rest))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("deadline duration must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid RFC3339 deadline")
	}
	return ts.Unix(), nil
}

func parseDuration(value string) (time.Duration, error) {
	lower := strings.ToLower(value)
	if days, ok := strings.CutSuffix(lower, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil || days == "" {
			return 0, fmt.Errorf("invalid deadline duration")
		}
		return time.Duration(n * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	return dur, nil
}

func validateTradeID(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("--id is required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return "", fmt.Errorf("--id must be a 32-byte hex string")
	}
	if _, err := hex.DecodeString(cleaned); err != nil {
		return "", fmt.Errorf("--id must contain only hexadecimal characters")
	}
	return strings.ToLower(cleaned), nil
}

func validateNonce(value string) (string, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) == 0 || len(decoded) > 32 {
		return "", fmt.Errorf("--nonce must be 1 to 32 hex-encoded bytes")
	}
	return strings.ToLower(cleaned), nil
}
