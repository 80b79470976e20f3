package email

import (
	"context"
	"fmt"
	"net/smtp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	host     string
	port     string
	from     string
	sendMail sendMailFunc
	tracer   trace.Tracer
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host:     host,
		port:     port,
		from:     from,
		sendMail: smtp.SendMail,
		tracer:   otel.Tracer("checkout/email"),
	}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(ctx context.Context, to string, o ConfirmedOrder) error {
	subject := fmt.Sprintf("Order confirmed: %s", o.OrderNumber)
	body, err := BuildOrderConfirmationBody(o)
	if err != nil {
		return err
	}
	return s.send(ctx, "SendOrderConfirmation", to, subject, body)
}

// SendOrderFailed tells the buyer their checkout did not go through
func (s *Service) SendOrderFailed(ctx context.Context, to string, o FailedOrder) error {
	subject := fmt.Sprintf("We could not complete your order %s", o.OrderNumber)
	body, err := BuildOrderFailedBody(o)
	if err != nil {
		return err
	}
	return s.send(ctx, "SendOrderFailed", to, subject, body)
}

func (s *Service) send(ctx context.Context, op, to, subject, body string) error {
	_, span := s.tracer.Start(ctx, "smtp."+op)
	defer span.End()
	span.SetAttributes(attribute.String("to.email", to))

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.sendMail(addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
