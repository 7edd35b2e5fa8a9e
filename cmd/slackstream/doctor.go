package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"slackstream/internal/channel"
	"slackstream/internal/config"
	"slackstream/internal/dedupe"
	"slackstream/internal/provider"
	"slackstream/internal/queue"
	"slackstream/internal/secrets"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the configuration and its backends",
		Long: `Verifies that the configuration loads, Slack credentials work, and the
queue, event ledger and model provider are reachable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("slackstream doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			d := &doctor{}

			// 1. Config loads and validates
			cfg, err := config.Load(configPath)
			if err != nil {
				d.fail("Config", err.Error())
				return d.summary()
			}
			d.pass("Config", "valid")

			// 2. Slack credentials
			if secrets.NeedsLookup(cfg.Slack) {
				res, err := secrets.NewResolverFromConfig(ctx, cfg.AWS.Region, logger)
				if err == nil {
					err = res.ResolveSlack(ctx, &cfg.Slack)
				}
				if err != nil {
					d.fail("Secrets Manager", err.Error())
				} else {
					d.pass("Secrets Manager", "credentials resolved")
				}
			}
			if cfg.Slack.SigningSecret == "" {
				d.warn("Signing secret", "not set, request signatures will not be verified")
			} else {
				d.pass("Signing secret", "set")
			}
			if cfg.Slack.BotToken == "" {
				d.fail("Slack auth", "no bot token")
			} else {
				s := channel.NewSlack(channel.SlackConfig{BotToken: cfg.Slack.BotToken, APIURL: cfg.Slack.APIURL, Logger: logger})
				if resp, err := s.AuthTest(ctx); err != nil {
					d.fail("Slack auth", err.Error())
				} else {
					d.pass("Slack auth", fmt.Sprintf("%s in %s", resp.User, resp.Team))
				}
			}

			// 3. Queue
			switch backend := cfg.QueueBackend(); backend {
			case "none":
				d.warn("Queue", "none configured, events are processed synchronously")
			case "sqs":
				d.pass("Queue", "sqs "+cfg.Queue.SQSURL)
			case "amqp":
				q, err := queue.NewAMQP(queue.AMQPConfig{URL: cfg.Queue.AMQPURL, Queue: cfg.Queue.AMQPQueue, Logger: logger})
				if err != nil {
					d.fail("Queue", err.Error())
				} else {
					q.Close()
					d.pass("Queue", "amqp "+cfg.Queue.AMQPQueue)
				}
			default:
				d.pass("Queue", backend)
			}

			// 4. Event ledger
			if ledger, err := dedupe.New(ctx, cfg.Dedupe, logger); err != nil {
				d.fail("Event ledger", err.Error())
			} else {
				ledger.Close()
				d.pass("Event ledger", cfg.Dedupe.Backend)
			}

			// 5. Model provider
			if p, err := provider.NewFactory(cfg, logger).Default(ctx); err != nil {
				d.fail("Model provider", err.Error())
			} else {
				d.pass("Model provider", p.Name())
			}

			// 6. HTTP port
			if err := checkAddr(cfg.Server.Addr); err != nil {
				d.warn("HTTP address", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr, err))
			} else {
				d.pass("HTTP address", cfg.Server.Addr+" available")
			}

			return d.summary()
		},
	}
}

type doctor struct {
	passed, warned, failed int
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (d *doctor) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	if d.warned == 0 {
		fmt.Printf("\nAll checks passed.\n")
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
