// Package main is the entry point of the asset API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/assetgw/internal/auth/jwt"
	"github.com/vyrodovalexey/assetgw/internal/config"
	"github.com/vyrodovalexey/assetgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool

	issueToken bool
	subject    string
	ttl        time.Duration
}

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if flags.issueToken {
		if err := issueToken(os.Stdout, cfg, flags.subject, flags.ttl); err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := initLogger(cfg)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting assetgw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	if err := app.run(ctx); err != nil {
		logger.Error("assetgw stopped with error", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("assetgw stopped")
}

// parseFlags parses command line flags.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("assetgw", flag.ExitOnError)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("ASSETGW_CONFIG_PATH", ""),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("ASSETGW_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("ASSETGW_LOG_FORMAT", ""),
		"Log format (json, console); overrides the configuration")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	fs.BoolVar(&f.issueToken, "issue-token", false, "Print a token signed with the configured secret and exit")
	fs.StringVar(&f.subject, "subject", "dev", "Subject of the issued token")
	fs.DurationVar(&f.ttl, "ttl", time.Hour, "Lifetime of the issued token, 0 for none")
	_ = fs.Parse(args)

	return f
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "assetgw version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadConfig loads, overrides from flags and validates the configuration.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger initializes the process logger.
func initLogger(cfg *config.Config) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return logger
}

// issueToken writes a development token for subject.
func issueToken(w io.Writer, cfg *config.Config, subject string, ttl time.Duration) error {
	alg := ""
	if len(cfg.Auth.Algorithms) > 0 {
		alg = cfg.Auth.Algorithms[0]
	}
	signer, err := jwt.NewSigner(cfg.Auth.JWTSecret, alg, jwt.WithSignerIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	token, err := signer.SignSubject(subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
