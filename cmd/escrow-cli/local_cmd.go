package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Ayush1832/tg-escrow-bot-sub001/cmd/internal/prompt"
	"github.com/Ayush1832/tg-escrow-bot-sub001/crypto"
	"github.com/Ayush1832/tg-escrow-bot-sub001/services/escrowd"
)

var (
	issueToken     = escrowd.IssueToken
	generateKey    = crypto.GeneratePrivateKey
	sealKey        = crypto.SealKey
	keystoreSecret = prompt.NewSource("ESCROW_KEYSTORE_PASSPHRASE", "keystore passphrase").Get
)

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		secretEnv string
		account   string
		scopes    string
		issuer    string
		audience  string
		ttl       time.Duration
	)
	fs.StringVar(&secretEnv, "secret-env", "ESCROW_HMAC_SECRET", "environment variable holding the shared HMAC secret")
	fs.StringVar(&account, "account", "", "bech32 account the token authenticates")
	fs.StringVar(&scopes, "scopes", "", "comma-separated scopes to grant")
	fs.StringVar(&issuer, "issuer", "", "optional issuer claim")
	fs.StringVar(&audience, "audience", "", "optional audience claim")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	secret := strings.TrimSpace(os.Getenv(secretEnv))
	if secret == "" {
		return printError(stderr, secretEnv+" is not set")
	}
	raw, err := crypto.ParseAccount(strings.TrimSpace(account))
	if err != nil {
		return printError(stderr, "--account: "+err.Error())
	}
	if ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	token, err := issueToken(secret, raw, splitList(scopes), issuer, audience, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "", "write the key to an encrypted keystore file instead of printing it")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	key, err := generateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	account := key.PubKey().Address().String()
	keystorePath = strings.TrimSpace(keystorePath)
	if keystorePath == "" {
		fmt.Fprintf(stdout, "account: %s\n", account)
		fmt.Fprintf(stdout, "private key: %s\n", hex.EncodeToString(key.Bytes()))
		return 0
	}
	passphrase, err := keystoreSecret()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := sealKey(keystorePath, key, passphrase, crypto.StandardScrypt); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "account: %s\n", account)
	fmt.Fprintf(stdout, "keystore: %s\n", keystorePath)
	return 0
}
