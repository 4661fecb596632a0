package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Message represents an unseen message fetched from the inbox
type Message struct {
	UID       uint32
	MessageID string
	From      Address
	Subject   string
	Date      time.Time
	BodyHTML  string
	BodyText  string
}

// Address represents an email address
type Address struct {
	Name    string
	Address string
}

// String formats the address the way a mail client would show it
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// MailboxAuthError is returned when the server rejects the credentials
type MailboxAuthError struct {
	Address string
	Err     error
}

func (e *MailboxAuthError) Error() string {
	return fmt.Sprintf("mailbox login failed for %s: %v", e.Address, e.Err)
}

func (e *MailboxAuthError) Unwrap() error {
	return e.Err
}

// ClientConfig configuration for IMAP client
type ClientConfig struct {
	Address     string
	Password    string
	Server      string // host:port
	DialTimeout time.Duration
}

// dialConn opens the transport connection, replaced in tests
var dialConn = func(ctx context.Context, d *net.Dialer, addr string) (net.Conn, error) {
	td := &tls.Dialer{NetDialer: d}
	return td.DialContext(ctx, "tcp", addr)
}

// Client IMAP session bound to the INBOX of a single account
type Client struct {
	config ClientConfig
	conn   net.Conn
	client *client.Client
	logger *slog.Logger
}

// Dial connects, logs in and selects INBOX read-only
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	logger = logger.With("email", cfg.Address)
	logger.Debug("connecting to IMAP server", "server", cfg.Server)

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	conn, err := dialConn(ctx, &net.Dialer{Timeout: timeout}, cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{config: cfg, conn: conn, logger: logger}
	stop := c.watch(ctx)
	defer stop()

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	c.client = imapClient

	if err := imapClient.Login(cfg.Address, cfg.Password); err != nil {
		c.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to login: %w", ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to login: %w", err)
		}
		return nil, &MailboxAuthError{Address: cfg.Address, Err: err}
	}

	if _, err := imapClient.Select("INBOX", true); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	logger.Debug("connected to IMAP server")
	return c, nil
}

// watch applies the context deadline to the connection and unblocks it on cancel
func (c *Client) watch(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	return func() { stop() }
}

// FetchUnseen returns all messages without the \Seen flag.
// Bodies are fetched with BODY.PEEK so the flags stay untouched.
func (c *Client) FetchUnseen(ctx context.Context) ([]*Message, error) {
	stop := c.watch(ctx)
	defer stop()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var out []*Message
	for msg := range messages {
		out = append(out, c.parseMessage(msg, section))
	}

	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("failed to fetch: %w", ctx.Err())
		}
		return out, fmt.Errorf("failed to fetch: %w", err)
	}

	return out, nil
}

// parseMessage parses an IMAP message into Message
func (c *Client) parseMessage(msg *imap.Message, section *imap.BodySectionName) *Message {
	m := &Message{
		UID: msg.Uid,
	}

	if msg.Envelope != nil {
		m.Subject = msg.Envelope.Subject
		m.Date = msg.Envelope.Date
		m.MessageID = strings.TrimSpace(msg.Envelope.MessageId)

		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			m.From = Address{
				Name:    from.PersonalName,
				Address: from.Address(),
			}
		}
	}

	// Messages without a Message-ID are keyed by UID
	if m.MessageID == "" {
		m.MessageID = fmt.Sprintf("uid:%d", msg.Uid)
	}

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return m
	}

	mr, err := mail.CreateReader(bodyReader)
	if err != nil {
		c.logger.Warn("failed to create mail reader", "uid", msg.Uid, "error", err)
		return m
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.logger.Warn("failed to read part", "uid", msg.Uid, "error", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		// First part of each kind wins
		switch {
		case strings.HasPrefix(ct, "text/html") && m.BodyHTML == "":
			m.BodyHTML = string(body)
		case strings.HasPrefix(ct, "text/plain") && m.BodyText == "":
			m.BodyText = string(body)
		}
	}

	return m
}

// Close logs out, forcing the connection closed if logout hangs
func (c *Client) Close() {
	_ = c.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if c.client == nil {
		c.conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		_ = c.client.Logout()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = c.client.Terminate()
	}
}
