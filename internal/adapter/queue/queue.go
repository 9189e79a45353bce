package queue

import (
	"fmt"

	"go.uber.org/zap"
)

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}

const (
	DriverNATS     = "nats"
	DriverRabbitMQ = "rabbitmq"
	DriverNone     = "none"
)

// New connects to the broker selected by driver. DriverNone returns a nil
// queue and no error, which leaves the realtime bus unconfigured.
func New(driver, url, exchange string, log *zap.Logger) (MessageQueue, error) {
	switch driver {
	case DriverNATS:
		return NewNATSQueue(url, log)
	case DriverRabbitMQ:
		return NewRabbitMQQueue(url, exchange, log)
	case DriverNone, "":
		log.Info("Realtime bus disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", driver)
	}
}
