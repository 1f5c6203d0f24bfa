package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/tirtabiz/tirta/internal/config"
)

type SMTPProvider struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTP(cfg config.SMTPConfig) *SMTPProvider {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPProvider{
		addr: fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		auth: auth,
		from: cfg.From,
	}
}

func (p *SMTPProvider) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	msg.WriteString("From: " + p.from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return smtp.SendMail(p.addr, p.auth, p.from, []string{to}, []byte(msg.String()))
}
