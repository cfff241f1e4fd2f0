package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender submits mail over STARTTLS, or implicit TLS on port 465.
type SMTPSender struct {
	cfg Config
	log *zap.Logger
	now func() time.Time
}

func NewSMTP(cfg Config, log *zap.Logger) *SMTPSender {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &SMTPSender{
		cfg: cfg,
		log: log.Named("email.smtp"),
		now: time.Now,
	}
}

func (p *SMTPSender) Send(ctx context.Context, msg Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" || !strings.Contains(to, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, msg.To)
	}
	msg.To = to

	payload, err := Compose(p.cfg.From, msg, p.now())
	if err != nil {
		return err
	}

	client, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(p.cfg.From); err != nil {
		return fmt.Errorf("%w: mail from: %w", ErrTransport, err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("%w: rcpt: %w", ErrTransport, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: data: %w", ErrTransport, err)
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: data close: %w", ErrTransport, err)
	}
	if err := client.Quit(); err != nil {
		p.log.Debug("smtp quit failed", zap.Error(err))
	}

	p.log.Info("mail submitted",
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

func (p *SMTPSender) CheckConnection(ctx context.Context) error {
	client, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

// dial connects, upgrades to TLS and authenticates.
func (p *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	tlsCfg := &tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if p.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}
	deadline := time.Now().Add(p.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: handshake: %w", ErrTransport, err)
	}
	if p.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("%w: starttls: %w", ErrTransport, err)
			}
		}
	}
	if p.cfg.Username != "" {
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: auth: %w", ErrTransport, err)
		}
	}
	return client, nil
}
