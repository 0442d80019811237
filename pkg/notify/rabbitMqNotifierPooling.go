package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/nexio-tech/statusbridge/pkg/config"
)

type pooledChannel struct {
	channel     *amqp.Channel
	notifyClose chan *amqp.Error
}

func newConnection(settings *config.BrokerSettings, logger *logrus.Logger) (*amqp.Connection, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	// Set up a channel to handle connection close notifications
	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)
	go func() {
		for err := range notifyClose {
			logger.WithError(err).Warn("RabbitMQ connection closed")
		}
	}()

	return conn, nil
}

func (r *rabbitMqNotifier) connectAndInitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Close existing connection if it exists
	if r.connection != nil && !r.connection.IsClosed() {
		r.connection.Close()
	}

	// Establish a new connection
	connection, err := newConnection(r.settings, r.logger)
	if err != nil {
		return err
	}
	r.connection = connection

	// Declare the exchange once per connection; declaration is idempotent
	channel, err := connection.Channel()
	if err != nil {
		return err
	}
	err = channel.ExchangeDeclare(
		r.settings.Exchange, // name
		"topic",             // type
		true,                // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
	channel.Close()
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Reinitialize the channel pool
	for len(r.channelPool) > 0 {
		pooledChan := <-r.channelPool
		pooledChan.channel.Close()
	}
	for i := 0; i < r.settings.PoolSize; i++ {
		channel, err := connection.Channel()
		if err != nil {
			return err
		}
		r.channelPool <- &pooledChannel{
			channel:     channel,
			notifyClose: channel.NotifyClose(make(chan *amqp.Error)),
		}
	}

	r.logger.Info("RabbitMQ connection, exchange, and channel pool initialized")
	return nil
}

func (r *rabbitMqNotifier) recoverConnection() {
	for {
		select {
		case <-r.reconnectTicker.C:
			if r.connection == nil || r.connection.IsClosed() {
				r.logger.Info("Attempting to reconnect to RabbitMQ...")
				if err := r.connectAndInitialize(); err != nil {
					r.logger.WithError(err).Error("Failed to reconnect to RabbitMQ")
				} else {
					r.logger.Info("Reconnected to RabbitMQ successfully")
				}
			}
		case <-r.stopReconnect:
			r.logger.Debug("Stopping RabbitMQ connection recovery")
			return
		}
	}
}

func (r *rabbitMqNotifier) getChannel() (*pooledChannel, error) {
	for {
		select {
		case pooledChan := <-r.channelPool:
			select {
			case err := <-pooledChan.notifyClose:
				// Channel is closed, discard it
				r.logger.WithError(err).Debug("Discarding closed channel")
				continue
			default:
				// Channel is valid
				return pooledChan, nil
			}
		default:
			// Create a new channel if none are available
			channel, err := r.connection.Channel()
			if err != nil {
				return nil, err
			}
			return &pooledChannel{
				channel:     channel,
				notifyClose: channel.NotifyClose(make(chan *amqp.Error)),
			}, nil
		}
	}
}

func (r *rabbitMqNotifier) releaseChannel(pooledChan *pooledChannel) {
	select {
	case err := <-pooledChan.notifyClose:
		// Channel is closed, discard it
		r.logger.WithError(err).Debug("Discarding closed channel")
		return
	default:
		// Channel is valid, return it to the pool
		select {
		case r.channelPool <- pooledChan:
		default:
			// Pool is full, close the channel
			pooledChan.channel.Close()
		}
	}
}
