package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/jewelry/internal/health"
	"github.com/vladislavdragonenkov/jewelry/internal/messaging/kafka"
)

// messaging объединяет producer и паблишеры topic-ов событий порядка.
// Нулевое значение означает работу без брокера.
type messaging struct {
	producer   *kafka.Producer
	events     domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
}

// initMessaging подключается к брокерам. Пустой список не ошибка:
// события не публикуются, а ошибка подключения только логируется вызывающим.
func initMessaging(brokers []string, logger *log.Entry) (messaging, error) {
	if len(brokers) == 0 {
		return messaging{}, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return messaging{}, err
	}
	logger.WithField("brokers", brokers).Info("kafka producer готов")

	return messaging{
		producer:   producer,
		events:     kafka.NewOutboxPublisher(producer, kafka.TopicSequenceEvents),
		deadLetter: kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}, nil
}

func (m messaging) enabled() bool {
	return m.producer != nil
}

// checker проверяет метаданные брокеров для readiness.
func (m messaging) checker() healthcheck.Checker {
	return healthcheck.CheckFunc(func(context.Context) error {
		return m.producer.Check()
	})
}

func (m messaging) close(logger *log.Entry) {
	if m.producer == nil {
		return
	}
	if err := m.producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer закрыт с ошибкой")
		return
	}
	logger.Info("kafka producer закрыт")
}
