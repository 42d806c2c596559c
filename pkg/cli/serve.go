package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/drover/pkg/cli/config"
	githubcontroller "github.com/m-mizutani/drover/pkg/controller/github"
	controller "github.com/m-mizutani/drover/pkg/controller/http"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/infra/firestore"
	githubinfra "github.com/m-mizutani/drover/pkg/infra/github"
	"github.com/m-mizutani/drover/pkg/infra/memory"
	"github.com/m-mizutani/drover/pkg/infra/notify"
	"github.com/m-mizutani/drover/pkg/infra/runner"
	"github.com/m-mizutani/drover/pkg/infra/storage"
	"github.com/m-mizutani/drover/pkg/usecase"
	"github.com/m-mizutani/drover/pkg/utils/async"
	"github.com/m-mizutani/drover/pkg/utils/token"
)

func cmdServe() *cli.Command {
	var (
		serverCfg    config.Server
		githubCfg    config.GitHub
		runnerCfg    config.Runner
		storageCfg   config.Storage
		firestoreCfg config.Firestore
		slackCfg     config.Slack
		geminiCfg    config.Gemini
		tokenCfg     config.Token
		reposCfg     config.Repos
	)

	var flags []cli.Flag
	flags = append(flags, serverCfg.Flags()...)
	flags = append(flags, githubCfg.Flags()...)
	flags = append(flags, runnerCfg.Flags()...)
	flags = append(flags, storageCfg.Flags()...)
	flags = append(flags, firestoreCfg.Flags()...)
	flags = append(flags, slackCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, tokenCfg.Flags()...)
	flags = append(flags, reposCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server and runner",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			logger.Info("Starting drover server",
				slog.String("addr", serverCfg.Addr),
			)

			// Run repository
			var repo interfaces.RunRepository
			if firestoreCfg.ProjectID != "" {
				fsClient, err := firestore.New(ctx, firestoreCfg.ProjectID, firestoreCfg.DatabaseID)
				if err != nil {
					return goerr.Wrap(err, "failed to create Firestore client")
				}
				defer safeClose(ctx, fsClient)
				repo = fsClient
			} else {
				logger.Warn("No Firestore project configured, run records are kept in memory")
				repo = memory.New()
			}

			// Artifact store
			var store interfaces.ArtifactStore
			if storageCfg.Bucket != "" {
				gcsStore, err := storage.NewGCS(ctx, storageCfg.Bucket, storageCfg.Prefix)
				if err != nil {
					return goerr.Wrap(err, "failed to create Cloud Storage store")
				}
				defer safeClose(ctx, gcsStore)
				store = gcsStore
			} else {
				localStore, err := storage.NewLocal(storageCfg.LocalDir)
				if err != nil {
					return goerr.Wrap(err, "failed to create local artifact store")
				}
				logger.Info("Storing artifacts locally", slog.String("dir", storageCfg.LocalDir))
				store = localStore
			}

			// GitHub client
			privateKey, err := githubCfg.LoadPrivateKey()
			if err != nil {
				return err
			}
			githubClient, err := githubinfra.NewClientFromConfig(githubCfg.AppID, githubCfg.InstallationID, privateKey)
			if err != nil {
				return goerr.Wrap(err, "failed to create GitHub client")
			}

			// Job runner
			runnerOpts := []runner.Option{
				runner.WithDefaultTimeout(runnerCfg.JobTimeout),
			}
			if len(runnerCfg.Labels) > 0 {
				runnerOpts = append(runnerOpts, runner.WithLabels(runnerCfg.Labels))
			}
			if runnerCfg.WorkDir != "" {
				runnerOpts = append(runnerOpts, runner.WithWorkDir(runnerCfg.WorkDir))
			}
			jobRunner := runner.New(githubinfra.NewZipballFetcher(githubClient), runnerOpts...)
			logger.Info("Runner ready", slog.Any("labels", jobRunner.Labels()))

			// Run use case
			runOpts := []usecase.RunOption{
				usecase.WithRetention(storageCfg.Retention),
				usecase.WithRunBaseURL(serverCfg.BaseURL),
			}
			if slackCfg.WebhookURL != "" {
				runOpts = append(runOpts, usecase.WithNotifier(notify.NewSlack(slackCfg.WebhookURL)))
			}
			if geminiCfg.ProjectID != "" {
				llmClient, err := gemini.New(ctx, geminiCfg.ProjectID, geminiCfg.Location,
					gemini.WithModel(geminiCfg.Model))
				if err != nil {
					return goerr.Wrap(err, "failed to create Gemini client")
				}
				runOpts = append(runOpts, usecase.WithLLMClient(llmClient))
				logger.Info("Failure diagnosis enabled", slog.String("model", geminiCfg.Model))
			}
			runUC := usecase.NewRun(repo, store, githubClient, jobRunner, runOpts...)

			// Webhook use case
			registry, err := reposCfg.Load()
			if err != nil {
				return err
			}
			webhookOpts := []usecase.WebhookOption{
				usecase.WithBaseURL(serverCfg.BaseURL),
			}
			if registry != nil {
				webhookOpts = append(webhookOpts, usecase.WithRegistry(registry))
				logger.Info("Repository registry loaded", slog.String("path", reposCfg.File))
			}
			dispatcher := async.New(runnerCfg.Concurrency)
			webhookUC := usecase.NewWebhook(repo, githubClient, runUC, dispatcher, webhookOpts...)

			// HTTP server
			processor := githubcontroller.NewEventProcessor(webhookUC)
			serverOpts := []controller.Option{
				controller.WithAddr(serverCfg.Addr),
				controller.WithWebhookSecret(githubCfg.WebhookSecret),
				controller.WithBaseURL(serverCfg.BaseURL),
			}
			if tokenCfg.Secret != "" {
				serverOpts = append(serverOpts, controller.WithTokenSigner(
					token.NewSigner([]byte(tokenCfg.Secret), tokenCfg.TTL)))
			}
			server, err := controller.NewServer(ctx, processor, runUC, serverOpts...)
			if err != nil {
				return goerr.Wrap(err, "failed to create HTTP server")
			}

			// Sweep expired artifacts in the background
			if storageCfg.Retention > 0 {
				sweepCtx, stopSweeper := context.WithCancel(ctx)
				defer stopSweeper()
				go runSweeper(sweepCtx, runUC, storageCfg.SweepInterval)
			}

			// Start server in goroutine
			go func() {
				logger.Info("HTTP server starting", slog.String("addr", serverCfg.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", slog.Any("error", err))
				}
			}()

			// Wait for interrupt signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			}

			// Graceful shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			// Let dispatched runs finish before releasing the stores
			if err := dispatcher.Wait(shutdownCtx); err != nil {
				logger.Warn("Runs still in flight at shutdown", slog.Any("error", err))
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}

// runSweeper deletes expired artifacts on a fixed interval until ctx is
// cancelled.
func runSweeper(ctx context.Context, runUC interfaces.RunUseCase, interval time.Duration) {
	logger := ctxlog.From(ctx)
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := runUC.SweepExpiredArtifacts(ctx); err != nil {
				logger.Error("Artifact sweep failed", slog.Any("error", err))
			}
		}
	}
}

func safeClose(ctx context.Context, closer io.Closer) {
	if err := closer.Close(); err != nil {
		ctxlog.From(ctx).Warn("Failed to close resource", slog.Any("error", err))
	}
}
