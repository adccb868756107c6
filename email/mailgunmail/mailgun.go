package mailgunmail

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/email"
	"github.com/radarsiope/radar/metrics"
	log "github.com/sirupsen/logrus"
	mailgun "gopkg.in/mailgun/mailgun-go.v1"
)

var _ email.WebhookProvider = &MailgunMail{}

// maximum number of send records an event is recorded on
const maxEventMatches = 5

type mailgunClient interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(m *mailgun.Message) (string, string, error)
	VerifyWebhookRequest(req *http.Request) (verified bool, err error)
}

// MailgunMail is a mailgun implementation of the Transport interface. It also receives the
// delivery event webhooks.
type MailgunMail struct {
	mg      mailgunClient
	db      data.Store
	from    string
	replyTo string
}

// NewMailgunMail creates a new mailgun transport. Events are recorded in db.
func NewMailgunMail(domain, key, from, replyTo string, db data.Store) *MailgunMail {
	return &MailgunMail{
		mg:      mailgun.NewMailgun(domain, key, ""),
		db:      db,
		from:    from,
		replyTo: replyTo,
	}
}

// RegisterRoutes implements WebhookProvider RegisterRoutes()
func (m *MailgunMail) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/mailgun", m.mailgunEvent).Methods(http.MethodPost)
}

// Send implements Transport Send()
func (m *MailgunMail) Send(ctx context.Context, msg email.Message) (string, error) {
	msg = msg.Defaults(m.from, m.replyTo)

	mm := m.mg.NewMessage(msg.From, msg.Subject, "", msg.To)
	mm.SetHtml(msg.HTML)
	if msg.ReplyTo != "" {
		mm.AddHeader("Reply-To", msg.ReplyTo)
	}

	keys := make([]string, 0, len(msg.Tags))
	for k := range msg.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		mm.AddHeader("X-Radar-"+k, msg.Tags[k])
	}

	_, id, err := m.mg.Send(mm)
	if err != nil {
		return "", &email.SendError{
			Code:    "mailgun_error",
			Message: err.Error(),
			Err:     errors.Wrap(err, "Mailgun.Send: failed to send message"),
		}
	}

	return strings.Trim(id, "<>"), nil
}

func (m *MailgunMail) mailgunEvent(w http.ResponseWriter, r *http.Request) {
	ver, err := m.mg.VerifyWebhookRequest(r)
	if err != nil {
		log.WithError(err).Warn("MailgunEvent: failed to verify request")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if !ver {
		log.Warn("MailgunEvent: invalid request")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event := r.FormValue("event")
	messageID := strings.Trim(r.FormValue("Message-Id"), "<>")
	if event == "" || messageID == "" {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	metrics.TrackingEvents.WithLabelValues(event).Inc()

	docs, err := m.db.Query(r.Context(), data.Query{
		CollectionGroup: data.Sends,
		Where:           []data.Filter{{Field: data.FieldTransportMessageID, Value: messageID}},
		Limit:           maxEventMatches,
	})
	if err != nil {
		log.WithError(err).WithField("message_id", messageID).Error("MailgunEvent: failed to find send records")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	for _, d := range docs {
		err := m.db.Update(r.Context(), d.Path, data.Fields{
			data.FieldLastEvent:   event,
			data.FieldLastEventAt: now,
		})
		if err != nil {
			metrics.BestEffortFailures.WithLabelValues("mailgun_event").Inc()
			log.WithError(err).WithField("path", d.Path).Warn("MailgunEvent: failed to record event")
		}
	}

	log.WithFields(log.Fields{
		"event":      event,
		"message_id": messageID,
		"matches":    len(docs),
	}).Debug("MailgunEvent: recorded event")

	_, err = w.Write([]byte("ok"))
	if err != nil {
		log.WithError(err).Error("MailgunEvent: failed to write response")
	}
}
