package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
)

type SMTPConfig struct {
	Server   string
	Port     string
	User     string
	Pass     string
	FromAddr string
	FromName string
}

func (c SMTPConfig) Validate() error {
	if c.Server == "" || c.Port == "" || c.FromAddr == "" {
		return fmt.Errorf("missing SMTP settings: SMTP_SERVER=%q SMTP_PORT=%q FROM_ADDR=%q", c.Server, c.Port, c.FromAddr)
	}
	return nil
}

// SMTPSender delivers plain-text mail with PLAIN auth.
type SMTPSender struct {
	Config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{Config: cfg, send: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := s.Config
	if err := c.Validate(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.User != "" {
		auth = smtp.PlainAuth("", c.User, c.Pass, c.Server)
	}
	if err := s.send(net.JoinHostPort(c.Server, c.Port), auth, c.FromAddr, []string{to}, message(c, to, subject, body)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func message(c SMTPConfig, to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		c.FromName, c.FromAddr, to, subject, body))
}
