// Command bridgectl mints service tokens for the internal endpoints and signs test deliveries.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/spec-kit/issue-bridge/internal/auth"
	"github.com/spec-kit/issue-bridge/internal/config"
	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/signature"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "token":
		return mintToken(cfg, args[1:], stdout)
	case "sign":
		return signDelivery(cfg, args[1:], stdin, stdout)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func mintToken(cfg *config.Config, args []string, stdout io.Writer) error {
	var subject, role string
	var ttl int

	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.StringVar(&subject, "subject", "", "caller identity recorded on triage decisions")
	flagSet.StringVar(&role, "role", string(domain.ServiceRoleWorker), "WORKER or ADMIN")
	flagSet.IntVar(&ttl, "ttl-minutes", cfg.Auth.TokenTTLMinutes, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if subject == "" {
		return errors.New("--subject is required")
	}
	serviceRole := domain.ServiceRole(role)
	if !serviceRole.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}

	raw, meta, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl).GenerateToken(subject, serviceRole)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, raw)
	fmt.Fprintf(os.Stderr, "expires %s\n", meta.ExpiresAt.Format(time.RFC3339))
	return nil
}

func signDelivery(cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) error {
	var file string
	var timestamp int64

	flagSet := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	flagSet.StringVar(&file, "file", "", "payload file (default: stdin)")
	flagSet.Int64Var(&timestamp, "timestamp", 0, "unix seconds (default: now)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if cfg.Webhook.SigningSecret == "" {
		return errors.New("WEBHOOK_SIGNING_SECRET is not set")
	}

	var body []byte
	var err error
	if file != "" {
		body, err = os.ReadFile(file)
	} else {
		body, err = io.ReadAll(stdin)
	}
	if err != nil {
		return err
	}
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	ts := strconv.FormatInt(timestamp, 10)
	verifier := signature.NewVerifier(cfg.Webhook.SigningSecret, 0)
	fmt.Fprintf(stdout, "X-Proxy-Timestamp: %s\nX-Proxy-Signature: sha256=%s\n", ts, verifier.Sign(ts, body))
	return nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `bridgectl manages issue-bridge credentials.

Usage:
  bridgectl token --subject NAME [--role WORKER|ADMIN] [--ttl-minutes N]
  bridgectl sign [--file PAYLOAD] [--timestamp UNIX]

Both commands read AUTH_JWT_SECRET and WEBHOOK_SIGNING_SECRET from the environment or .env.
`)
}
