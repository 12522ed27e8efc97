// Package main provides the outreach monitor, a console subscriber that
// tails the execution event stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/cmd"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/events"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "outreach-monitor",
		Usage:                 "Tail execution lifecycle events from the event bus",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "monitor-id",
				Aliases: []string{"id"},
				Usage:   "Custom monitor ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("MONITOR_ID"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			monitorID := command.String("monitor-id")
			if monitorID == "" {
				monitorID = fmt.Sprintf("monitor-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("outreach-monitor").With("monitor_id", monitorID)

			logger.Info("Initializing Outreach Monitor")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			eventTypes := []events.EventType{
				events.InstanceStartedEvent,
				events.InstanceCompletedEvent,
				events.InstanceFailedEvent,
				events.InstancePausedEvent,
				events.InstanceResumedEvent,
				events.InstanceCancelledEvent,
				events.NodeCompletedEvent,
				events.NodeFailedEvent,
				events.NodeSkippedEvent,
			}

			for _, eventType := range eventTypes {
				err := eventBus.Handle(eventType, func(ctx context.Context, event interface{}) error {
					payload, err := json.Marshal(event)
					if err != nil {
						return fmt.Errorf("failed to marshal event: %w", err)
					}

					logger.InfoContext(ctx, "Event received", "payload", string(payload))

					return nil
				})
				if err != nil {
					return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
				}
			}

			subscribeCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			err := eventBus.Subscribe(subscribeCtx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to event bus: %w", err)
			}

			logger.Info("Monitor is running, press Ctrl+C to stop")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("Shutting down monitor")

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
