package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"galleryaccess/internal/config"
	"galleryaccess/internal/models"
)

// PasswordRequestNotice tells the gallery owner that a guest retrieved the
// password. It never carries the password itself.
type PasswordRequestNotice struct {
	AdminEmail  string
	GalleryName string
	Request     models.PasswordRequest
}

type Sender interface {
	NotifyPasswordRequest(ctx context.Context, n PasswordRequestNotice) error
}

type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return LogSender{log: log}
}

func (s LogSender) NotifyPasswordRequest(ctx context.Context, n PasswordRequestNotice) error {
	_ = ctx
	s.log.Info("password_request_notice",
		zap.String("admin_email", n.AdminEmail),
		zap.String("gallery_id", n.Request.GalleryID),
		zap.String("gallery_code", n.Request.GalleryCode),
		zap.String("requester_email", n.Request.Email),
		zap.Bool("security_question_answered", n.Request.SecurityQuestionAnswered),
	)
	return nil
}

const smtpTimeout = 15 * time.Second

type sendFunc func(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error

type SMTPSender struct {
	addr     string
	from     string
	username string
	password string
	send     sendFunc
}

func NewSender(cfg config.Config, log *zap.Logger) Sender {
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{
			addr:     net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
			from:     cfg.NotifyFrom,
			username: cfg.SMTPUsername,
			password: cfg.SMTPPassword,
			send:     dialAndSend(cfg.SMTPHost, smtpTimeout),
		}
	default:
		return NewLogSender(log)
	}
}

func (s SMTPSender) NotifyPasswordRequest(ctx context.Context, n PasswordRequestNotice) error {
	raw, err := BuildPasswordRequestMessage(s.from, n, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build notice: %w", err)
	}
	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}
	return s.send(ctx, s.addr, auth, s.from, []string{n.AdminEmail}, bytes.NewReader(raw))
}

// dialAndSend delivers over STARTTLS. The connection is closed as soon as
// ctx ends.
func dialAndSend(host string, timeout time.Duration) sendFunc {
	return func(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		err = deliver(conn, host, timeout, a, from, to, r)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		return err
	}
}

func deliver(conn net.Conn, host string, timeout time.Duration, a sasl.Client, from string, to []string, r io.Reader) error {
	c, err := smtp.NewClientStartTLS(conn, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer c.Close()
	c.CommandTimeout = timeout
	c.SubmissionTimeout = timeout

	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return fmt.Errorf("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

func BuildPasswordRequestMessage(from string, n PasswordRequestNotice, at time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: n.AdminEmail}})
	h.SetSubject(fmt.Sprintf("Richiesta password per la galleria %s", n.Request.GalleryCode))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var body strings.Builder
	fmt.Fprintf(&body, "Galleria: %s (%s)\r\n", n.GalleryName, n.Request.GalleryCode)
	fmt.Fprintf(&body, "Nome: %s %s\r\n", n.Request.FirstName, n.Request.LastName)
	fmt.Fprintf(&body, "Email: %s\r\n", n.Request.Email)
	fmt.Fprintf(&body, "Relazione: %s\r\n", n.Request.Relation)
	answered := "no"
	if n.Request.SecurityQuestionAnswered {
		answered = "sì"
	}
	fmt.Fprintf(&body, "Domanda di sicurezza superata: %s\r\n", answered)
	fmt.Fprintf(&body, "Data: %s\r\n", n.Request.CreatedAt.UTC().Format(time.RFC3339))

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body.String()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
