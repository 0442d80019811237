package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nexio-tech/statusbridge/pkg/config"
)

func NewNotifier(ctx context.Context, cfg *config.BrokerSettings, logger *logrus.Logger) (Notifier, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqNotifier(ctx, cfg, logger)
	case "pubsub":
		return NewPubSubNotifier(ctx, cfg)
	case "noop", "":
		return noopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
