package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"slackstream/internal/config"
	"slackstream/internal/queue"
	"slackstream/internal/server"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "slackstream",
		Short: "Slack assistant that streams model replies into threads",
		Long: `slackstream acknowledges Slack Events API deliveries immediately, defers
the work to a queue and streams model output back into the assistant thread.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default: environment only)")

	root.AddCommand(lambdaCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config and replaces the bootstrap logger with the
// configured one.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger = config.NewLogger(cfg.Log, os.Stderr).With("service", cfg.Service)
	return cfg, nil
}

func lambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as the AWS Lambda function handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info("lambda handler starting", "queue", cfg.QueueBackend(), "provider", cfg.Model.Provider)
			lambda.Start(a.handler.Invoke)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Events API endpoint over HTTP",
		Long:  "Starts the local HTTP ingress and, for in-memory or AMQP queues, a worker in the same process. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(server.Config{Addr: cfg.Server.Addr, Router: a.router, Logger: logger})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })

			switch q := a.queue.(type) {
			case *queue.Memory:
				g.Go(func() error {
					q.Run(gctx, a.batch.ProcessRecord)
					return nil
				})
			case *queue.AMQP:
				g.Go(func() error { return q.Consume(gctx, a.batch.ProcessRecord) })
			case nil:
				logger.Warn("no queue configured, events are processed inside the request")
			default:
				logger.Info("queue is consumed elsewhere", "queue", cfg.QueueBackend())
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("stopped")
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued events from AMQP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.QueueBackend() != "amqp" {
				return fmt.Errorf("worker needs the amqp queue backend, got %q", cfg.QueueBackend())
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			q, ok := a.queue.(*queue.AMQP)
			if !ok {
				return fmt.Errorf("unexpected queue type %T", a.queue)
			}
			logger.Info("worker started", "queue", cfg.Queue.AMQPQueue, "prefetch", cfg.Queue.Prefetch)
			if err := q.Consume(ctx, a.batch.ProcessRecord); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
		Long:  "Shows configuration after defaults, the config file and environment overrides are applied. Secrets are masked.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. model.provider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.ListPaths(config.Sanitize(cfg)), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			if configPath == "" {
				fmt.Println("(environment only)")
				return
			}
			fmt.Println(config.ExpandPath(configPath))
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("slackstream %s\n", version)
		},
	}
}
