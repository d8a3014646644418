package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"siniopay/internal/logger"

	"github.com/sony/gobreaker"
)

type Recipient struct {
	Email string
	Name  string
}

type Sender interface {
	Send(ctx context.Context, to Recipient, subject, body string) error
}

type SMTPSender struct {
	from     string
	fromName string
	host     string
	port     string
	user     string
	pass     string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(from, fromName, host, port, user, pass string) *SMTPSender {
	return &SMTPSender{
		from:     from,
		fromName: fromName,
		host:     host,
		port:     port,
		user:     user,
		pass:     pass,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to Recipient, subject, body string) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.fromName, s.from)
	message += fmt.Sprintf("To: %s\r\n", to.Email)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "\r\n" + body

	var auth smtp.Auth
	if s.user != "" && s.pass != "" {
		auth = smtp.PlainAuth("", s.user, s.pass, s.host)
	}

	return s.sendMail(s.host+":"+s.port, auth, s.from, []string{to.Email}, []byte(message))
}

// BreakerSender stops calling the wrapped sender after repeated failures and
// probes it again once the open period has passed.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerSender(next Sender, consecutiveFailures uint32, openFor time.Duration) *BreakerSender {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-sender",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerSender{next: next, cb: cb}
}

var ErrSenderUnavailable = errors.New("notification sender unavailable")

func (b *BreakerSender) Send(ctx context.Context, to Recipient, subject, body string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, to, subject, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrSenderUnavailable, err)
	}
	return err
}

func (b *BreakerSender) State() gobreaker.State {
	return b.cb.State()
}
