package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/bookly/internal/logging"
)

type Mailer interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

type Message struct {
	From    string    `json:"from"`
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	HTML    string    `json:"html"`
	SentAt  time.Time `json:"sent_at"`
}

var ErrNoRecipients = errors.New("mail: no recipients")

// LogMailer writes mail to the logger instead of delivering it.
type LogMailer struct {
	From string
}

func (m LogMailer) Send(ctx context.Context, to []string, subject, _ string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	logging.FromContext(ctx).Infow("mail_logged", "from", m.From, "to", to, "subject", subject)
	return nil
}

// Dispatch sends in the background. The send outlives ctx's cancellation but
// is bounded by timeout; failures are only logged.
func Dispatch(ctx context.Context, m Mailer, timeout time.Duration, to []string, subject, html string) <-chan error {
	done := make(chan error, 1)
	l := logging.FromContext(ctx)
	bg := logging.IntoContext(context.WithoutCancel(ctx), l)

	go func() {
		defer close(done)
		sendCtx, cancel := context.WithTimeout(bg, timeout)
		defer cancel()

		err := m.Send(sendCtx, to, subject, html)
		if err != nil {
			l.Errorw("mail_failed", "subject", subject, "error", err)
			err = fmt.Errorf("send %q: %w", subject, err)
		}
		done <- err
	}()
	return done
}
