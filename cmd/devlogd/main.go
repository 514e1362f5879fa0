package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/akave-ai/devlog/internal/auth"
	"github.com/akave-ai/devlog/internal/config"
	"github.com/akave-ai/devlog/internal/logger"
	"github.com/akave-ai/devlog/internal/server"
)

type serveFlags struct {
	port      int
	capacity  int
	uploadDir string
	verbose   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags serveFlags
	root := &cobra.Command{
		Use:          "devlogd",
		Short:        "Development log collection server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	root.PersistentPreRun = func(*cobra.Command, []string) {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the log server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	for _, c := range []*cobra.Command{root, serve} {
		f := c.Flags()
		f.IntVarP(&flags.port, "port", "p", 0, "listen port (overrides DEVLOG_SERVER__PORT)")
		f.IntVarP(&flags.capacity, "capacity", "c", 0, "ring buffer capacity (overrides DEVLOG_BUFFER__CAPACITY)")
		f.StringVar(&flags.uploadDir, "upload-dir", "", "upload directory for the file backend")
		f.BoolVarP(&flags.verbose, "verbose", "v", false, "show file:line and metadata for received entries")
	}

	root.AddCommand(serve, newTokenCmd())
	return root
}

func runServe(cmd *cobra.Command, flags serveFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	if fs.Changed("port") {
		cfg.Server.Port = strconv.Itoa(flags.port)
	}
	if fs.Changed("capacity") {
		cfg.Buffer.Capacity = flags.capacity
	}
	if fs.Changed("upload-dir") {
		cfg.Storage.UploadDir = flags.uploadDir
	}
	if fs.Changed("verbose") {
		cfg.Display.Verbose = flags.verbose
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, server.Options{Logger: log, Display: os.Stdout})
	if err != nil {
		return err
	}
	log.Info().
		Str("env", cfg.Primary.Env).
		Str("port", cfg.Server.Port).
		Msg("devlog server starting")
	return srv.Start(ctx)
}

func newTokenCmd() *cobra.Command {
	var (
		user   string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("DEVLOG_AUTH__HMAC_SECRET")
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set DEVLOG_AUTH__HMAC_SECRET")
			}
			tok, err := auth.NewToken([]byte(secret), user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "token subject (user id)")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (defaults to DEVLOG_AUTH__HMAC_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
