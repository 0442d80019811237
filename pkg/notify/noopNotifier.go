package notify

import "context"

// noopNotifier is used when no broker is configured.
type noopNotifier struct{}

func (noopNotifier) Publish(ctx context.Context, notification *StatusNotification) error {
	return nil
}

func (noopNotifier) Close() error {
	return nil
}
