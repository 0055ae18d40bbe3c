package mailer

import (
	"context"
	"strings"
	"time"
)

type Publisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

// KafkaMailer hands mail to an outbox topic consumed by a delivery worker.
type KafkaMailer struct {
	publisher Publisher
	topic     string
	from      string
}

func NewKafkaMailer(p Publisher, topic, from string) *KafkaMailer {
	return &KafkaMailer{publisher: p, topic: topic, from: from}
}

func (m *KafkaMailer) Send(ctx context.Context, to []string, subject, html string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	msg := Message{
		From:    m.from,
		To:      to,
		Subject: subject,
		HTML:    html,
		SentAt:  time.Now().UTC(),
	}
	return m.publisher.PublishEvent(ctx, m.topic, strings.Join(to, ","), msg)
}
