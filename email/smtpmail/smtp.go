package smtpmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	gomail "github.com/go-mail/mail"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/radarsiope/radar/email"
	log "github.com/sirupsen/logrus"
)

var _ email.Transport = &SMTPMail{}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMail sends email through an authenticated smtp relay such as zoho. Relays don't return an
// id so one is generated and set as the Message-ID header.
type SMTPMail struct {
	d       sender
	from    string
	replyTo string
	newID   func() string
}

// NewSMTPMail creates a transport for host:port. Port 465 uses implicit tls, others starttls.
func NewSMTPMail(host string, port int, user, password, from, replyTo string) *SMTPMail {
	d := gomail.NewDialer(host, port, user, password)
	d.TLSConfig = &tls.Config{ServerName: host}
	d.SSL = port == 465

	return &SMTPMail{
		d:       d,
		from:    from,
		replyTo: replyTo,
		newID:   func() string { return uuid.Must(uuid.NewRandom()).String() },
	}
}

// Send implements Transport Send()
func (s *SMTPMail) Send(ctx context.Context, msg email.Message) (string, error) {
	msg = msg.Defaults(s.from, s.replyTo)

	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "SMTPMail.Send: context done before sending")
	}

	id := fmt.Sprintf("%v@%v", s.newID(), domain(msg.From))

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", "<"+id+">")
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}

	keys := make([]string, 0, len(msg.Tags))
	for k := range msg.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetHeader("X-Radar-"+k, msg.Tags[k])
	}

	m.SetBody("text/html", msg.HTML)

	if err := s.d.DialAndSend(m); err != nil {
		log.WithError(err).WithField("to", msg.To).Warn("SMTPMail: failed to send email")
		return "", &email.SendError{Code: "smtp_error", Message: err.Error(), Err: err}
	}

	return id, nil
}

func domain(from string) string {
	addr := from
	if a, err := mail.ParseAddress(from); err == nil {
		addr = a.Address
	}

	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
