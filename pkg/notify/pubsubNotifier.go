package notify

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexio-tech/statusbridge/pkg/config"
)

const tracerName = "statusbridge"

// PubSubNotifierCreator defines a function type for creating Pub/Sub clients.
type PubSubNotifierCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Notifier, error)

// NewPubSubNotifier is the default implementation of PubSubNotifierCreator.
var NewPubSubNotifier PubSubNotifierCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Notifier, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &pubSubNotifier{client: client, topic: settings.Topic}, nil
}

type pubSubNotifier struct {
	client *pubsub.Client
	topic  string
}

func (p *pubSubNotifier) Publish(ctx context.Context, notification *StatusNotification) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic),
		),
	)
	defer span.End()

	payload, err := json.Marshal(notification)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Inject the trace context into the message attributes
	propagator := otel.GetTextMapPropagator()
	attributes := make(map[string]string)
	propagator.Inject(ctx, propagation.MapCarrier(attributes))

	message := &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	}

	// Per-queue ordering so consumers observe status transitions in order
	message.OrderingKey = notification.QueueID

	res := p.client.Topic(p.topic).Publish(ctx, message)
	_, err = res.Get(ctx) // wait for server ack
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)

	return nil
}

func (p *pubSubNotifier) Close() error {
	return p.client.Close()
}
