package notify

import (
	"context"
	"fmt"
	"net/smtp"
)

// SMTPSender sends messages via SMTP email.
type SMTPSender struct {
	// send is smtp.SendMail outside tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *SMTPSender) Type() string { return TypeSMTP }

func (s *SMTPSender) Send(ctx context.Context, target Target, message string) error {
	if target.To == "" {
		return fmt.Errorf("smtp target %q missing 'to'", target.label())
	}
	if target.From == "" {
		return fmt.Errorf("smtp target %q missing 'from'", target.label())
	}
	if target.Host == "" {
		return fmt.Errorf("smtp target %q missing host", target.label())
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := target.Subject
	if subject == "" {
		subject = "convograph notification"
	}
	port := target.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", target.Host, port)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		target.From, target.To, subject, message)

	var auth smtp.Auth
	if target.Password != "" {
		auth = smtp.PlainAuth("", target.From, target.Password, target.Host)
	}

	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, target.From, []string{target.To}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
