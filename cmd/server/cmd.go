package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"

	"coroner-assist/internal/ai"
	"coroner-assist/internal/app"
	"coroner-assist/internal/bootstrap"
	"coroner-assist/internal/config"
	"coroner-assist/internal/pkg/extract"
	"coroner-assist/internal/pkg/jwtutil"
	"coroner-assist/internal/pkg/logger"
	httptransport "coroner-assist/internal/transport/http"
)

type rootParams struct {
	ConfigFile string
}

func newRootCmd() *cobra.Command {
	params := &rootParams{}
	cmd := &cobra.Command{
		Use:           "coroner-assist",
		Short:         "Ask questions about uploaded medical documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(params)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)
			return serve(cmd.Context(), cfg, log)
		},
	}
	cmd.PersistentFlags().StringVarP(&params.ConfigFile, "config", "c", "", "path to the TOML config file (default $CONFIG_FILE or configs/config.toml)")

	cmd.AddCommand(newAskCmd(params), newTokenCmd(params))
	return cmd
}

func loadConfig(params *rootParams) (*config.Config, error) {
	if params.ConfigFile != "" {
		return config.LoadFile(params.ConfigFile)
	}
	return config.Load()
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	application, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Error("close resources failed", "err", err)
		}
	}()

	router := httptransport.NewRouter(application)
	server := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "provider", cfg.LLM.Provider, "mode", cfg.Orchestrator.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return waitForShutdown(ctx, server, errCh, log)
}

func waitForShutdown(ctx context.Context, server *http.Server, errCh <-chan error, log *slog.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func newAskCmd(root *rootParams) *cobra.Command {
	var (
		query string
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "ask <file> [file...]",
		Short: "Answer a question about local files without starting the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			answerMode, err := app.ParseMode(mode)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)

			text, err := extractFiles(args, log)
			if err != nil {
				return err
			}

			defaultMode, err := app.ParseMode(cfg.Orchestrator.Mode)
			if err != nil {
				return err
			}
			client := ai.NewLimitedClient(ai.NewOpenAICompatibleClient(cfg.LLMTimeout()), cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
			orch := app.NewOrchestrator(client, bootstrap.ChatConfig(cfg), cfg.Orchestrator.ChunkSize, defaultMode, log)

			answer, err := orch.Answer(cmd.Context(), text, query, answerMode)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer.Text)
			if answer.Partial() {
				log.Warn("some chunks failed", "chunks", len(answer.Chunks))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "question to ask")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "answer mode: single or report (default from config)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func extractFiles(paths []string, log *slog.Logger) (string, error) {
	var text string
	for _, path := range paths {
		if !extract.Supported(path) {
			return "", extract.UnsupportedError(filepath.Base(path))
		}
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s failed: %w", path, err)
		}
		res := extract.Extract(filepath.Base(path), f)
		f.Close()
		if !res.OK() {
			log.Warn("extraction failed", "file", path, "err", res.Err)
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += res.Text
	}
	if text == "" {
		return "", app.ErrNoExtractableText
	}
	return text, nil
}

func newTokenCmd(root *rootParams) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a JWT for a user id using the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
			}
			token, err := jwtutil.IssueToken(cfg.Auth.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.jwt_expire_minute)")
	return cmd
}
