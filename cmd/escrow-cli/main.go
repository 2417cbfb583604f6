package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		return runEscrowCommand(args, stdout, stderr)
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli <command> [flags]

Trade commands:
  create    Create a new trade
  status    Fetch a trade by id
  list      List the caller's trades
  bind      Bind the deposit account of a trade
  deposit   Report a deposit (transport scope)
  confirm   Confirm delivery as the buyer
  dispute   Raise a dispute
  resolve   Resolve a dispute as the admin
  cancel    Cancel a trade that was never funded
  claim     Refund the seller after the deadline
  withdraw  Emergency withdrawal by the admin
  retry     Retry bounced payout legs

Local commands:
  token     Issue a bearer token from the shared secret
  keygen    Generate an account key

Environment:
  ESCROW_ENDPOINT  daemon base URL (default http://localhost:7090)
  ESCROW_TOKEN     bearer token; prompted for when unset
`)
}
