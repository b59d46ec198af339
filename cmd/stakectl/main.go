package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	poolconfig "stakepool/config"
	"stakepool/core/events"
	"stakepool/crypto"
	"stakepool/integrations/exports"
	"stakepool/internal/passphrase"
	stakingdconfig "stakepool/services/stakingd/config"
	"stakepool/services/stakingd/server"
	"stakepool/services/stakingd/storage"
)

const (
	initCommand   = "init"
	keygenCommand = "keygen"
	tokenCommand  = "token"
	exportCommand = "export"
	verifyCommand = "verify"

	defaultPoolConfig     = "./pool.toml"
	defaultStakingdConfig = "services/stakingd/config.yaml"
	defaultArchiveDSN     = "file:stakingd.sqlite"
	defaultPassEnv        = "STAKEPOOL_ESCROW_PASS"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("unknown command")

func run(command string, args []string, out io.Writer) error {
	switch command {
	case initCommand:
		return runInit(args, out)
	case keygenCommand:
		return runKeygen(args, out)
	case tokenCommand:
		return runToken(args, out)
	case exportCommand:
		return runExport(args, out)
	case verifyCommand:
		return runVerify(args, out)
	default:
		return errUsage
	}
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(initCommand, flag.ContinueOnError)
	path := fs.String("config", defaultPoolConfig, "Path of the pool config to create")
	owner := fs.String("owner", "", "Address administering the pool")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); os.IsNotExist(err) {
		if _, err := crypto.ParseAddress(*owner); err != nil {
			return fmt.Errorf("invalid owner: %w", err)
		}
	}
	cfg, err := poolconfig.Init(*path, *owner)
	if err != nil {
		return fmt.Errorf("failed to initialise pool config: %w", err)
	}
	fmt.Fprintf(out, "Pool config: %s\n", *path)
	fmt.Fprintf(out, "Engine address: %s\n", cfg.EngineAddress)
	if cfg.Owner != "" {
		fmt.Fprintf(out, "Owner: %s\n", cfg.Owner)
	}
	fmt.Fprintf(out, "Escrow keystore: %s\n", cfg.Tokens.KeystorePath)
	return nil
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "escrow.keystore", "Output path for the generated keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	secret, err := passphrase.NewSource(*passEnv,
		passphrase.WithKeystore(*keystorePath),
		passphrase.WithConfirmation(),
	).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(*keystorePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, secret); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintf(out, "Keystore: %s\n", *keystorePath)
	fmt.Fprintf(out, "Address: %s\n", key.Address().Hex())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	cfgPath := fs.String("config", defaultStakingdConfig, "Path to the stakingd configuration file")
	account := fs.String("account", "", "Account the token authenticates")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*account)
	if err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	cfg, err := stakingdconfig.Load(*cfgPath)
	if err != nil {
		return err
	}
	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, nil)
	if err != nil {
		return err
	}
	token, err := auth.Issue(addr, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	dsn := fs.String("dsn", defaultArchiveDSN, "Fact archive DSN")
	format := fs.String("format", "csv", "Export format: csv, jsonl or parquet")
	from := fs.Uint64("from", 0, "First sequence to export")
	to := fs.Uint64("to", 0, "Last sequence to export (0 for the archive tip)")
	output := fs.String("out", "", "Output file (defaults to facts.<format>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	encode, err := exporter(*format)
	if err != nil {
		return err
	}
	archive, err := storage.Open(*dsn)
	if err != nil {
		return err
	}
	defer archive.Close()
	facts, err := archive.Range(context.Background(), *from, *to, 0)
	if err != nil {
		return err
	}
	data, sum, err := encode(facts)
	if err != nil {
		return fmt.Errorf("encode %s: %w", *format, err)
	}
	path := *output
	if path == "" {
		path = "facts." + strings.ToLower(*format)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(path+".sha256", []byte(sum+"  "+filepath.Base(path)+"\n"), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d facts to %s\n", len(facts), path)
	fmt.Fprintf(out, "SHA-256: %s\n", sum)
	return nil
}

func exporter(format string) (func([]events.Fact) ([]byte, string, error), error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return exports.FactsCSV, nil
	case "jsonl":
		return exports.FactsJSONL, nil
	case "parquet":
		return exports.FactsParquet, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func runVerify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(verifyCommand, flag.ContinueOnError)
	dsn := fs.String("dsn", defaultArchiveDSN, "Fact archive DSN")
	if err := fs.Parse(args); err != nil {
		return err
	}
	archive, err := storage.Open(*dsn)
	if err != nil {
		return err
	}
	defer archive.Close()
	facts, err := archive.Range(context.Background(), 0, 0, 0)
	if err != nil {
		return err
	}
	segments, gaps := contiguous(facts)
	for _, segment := range segments {
		if err := events.VerifyChain(segment); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Verified %d facts in %d segments (%d gaps)\n", len(facts), len(segments), gaps)
	return nil
}

// contiguous splits facts at sequence gaps. Facts lost by the indexer leave
// holes that break the hash link, but each run must still chain on its own.
func contiguous(facts []events.Fact) ([][]events.Fact, int) {
	if len(facts) == 0 {
		return nil, 0
	}
	var segments [][]events.Fact
	start := 0
	for i := 1; i <= len(facts); i++ {
		if i == len(facts) || facts[i].Sequence != facts[i-1].Sequence+1 {
			segments = append(segments, facts[start:i])
			start = i
		}
	}
	return segments, len(segments) - 1
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: stakectl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init     create a pool config and escrow keystore")
	fmt.Fprintln(w, "  keygen   generate an encrypted escrow keystore")
	fmt.Fprintln(w, "  token    issue a bearer token for stakingd")
	fmt.Fprintln(w, "  export   export archived facts as csv, jsonl or parquet")
	fmt.Fprintln(w, "  verify   check the hash chain of archived facts")
}
