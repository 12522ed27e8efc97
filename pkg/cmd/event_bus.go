package cmd

import (
	"fmt"
	"log/slog"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/channels/gochannel"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/channels/kafka"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/eventbus"
	"github.com/ThreeDotsLabs/watermill"
)

// NewEventBus creates an event bus instance based on the provider.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, "outreach")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
