package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	paymentdomain "github.com/smallbiznis/paymail/internal/payment/domain"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
	Timeout  time.Duration
}

type IMAPMailbox struct {
	cfg Config
	log *zap.Logger
}

func NewIMAP(cfg Config, log *zap.Logger) *IMAPMailbox {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &IMAPMailbox{cfg: cfg, log: log.Named("mailbox.imap")}
}

func (m *IMAPMailbox) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}
	c.Timeout = m.cfg.Timeout

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: login: %w", ErrTransport, err)
	}
	status, err := c.Select(m.cfg.Folder, false)
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: select %s: %w", ErrTransport, m.cfg.Folder, err)
	}

	m.log.Debug("mailbox selected",
		zap.String("folder", m.cfg.Folder),
		zap.Uint32("messages", status.Messages),
	)
	return &imapSession{c: c, log: m.log}, nil
}

type imapSession struct {
	c   *client.Client
	log *zap.Logger
}

func (s *imapSession) Unseen(ctx context.Context) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrTransport, err)
	}
	return uids, nil
}

func (s *imapSession) Fetch(ctx context.Context, uid uint32) (paymentdomain.InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return paymentdomain.InboundMessage{}, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for m := range messages {
		if fetched == nil {
			fetched = m
		}
	}
	if err := <-done; err != nil {
		return paymentdomain.InboundMessage{}, fmt.Errorf("%w: fetch %d: %w", ErrTransport, uid, err)
	}
	if fetched == nil {
		return paymentdomain.InboundMessage{}, fmt.Errorf("%w: uid %d", ErrNotFound, uid)
	}

	literal := fetched.GetBody(section)
	if literal == nil {
		return paymentdomain.InboundMessage{}, fmt.Errorf("%w: uid %d has no body", ErrParse, uid)
	}
	msg, err := ParseMessage(literal)
	msg.UID = uid
	return msg, err
}

func (s *imapSession) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("%w: store %d: %w", ErrTransport, uid, err)
	}
	return nil
}

func (s *imapSession) Close() error {
	if err := s.c.Logout(); err != nil {
		return fmt.Errorf("%w: logout: %w", ErrTransport, err)
	}
	return nil
}
