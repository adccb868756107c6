package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/email"
	"github.com/radarsiope/radar/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultRateLimit is the number of emails sent per batch
const DefaultRateLimit = 14

// DefaultPause is the delay between two batches
const DefaultPause = time.Second

// Dispatcher sends jobs in rate limited batches and records the message id of each delivery
type Dispatcher struct {
	transport email.Transport
	db        data.Store
	rateLimit int
	pause     time.Duration
	sleep     func(time.Duration)
	clock     func() time.Time
	locators  []Locator
	tracker   *email.Tracker
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithRateLimit sets the batch size
func WithRateLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.rateLimit = n
		}
	}
}

// WithPause sets the delay between batches
func WithPause(p time.Duration) Option {
	return func(d *Dispatcher) {
		d.pause = p
	}
}

// WithSleep replaces time.Sleep
func WithSleep(s func(time.Duration)) Option {
	return func(d *Dispatcher) {
		d.sleep = s
	}
}

// WithClock replaces time.Now
func WithClock(c func() time.Time) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithLocators replaces DefaultLocators
func WithLocators(l ...Locator) Option {
	return func(d *Dispatcher) {
		d.locators = l
	}
}

// WithTracker instruments every email with open and click tracking
func WithTracker(t *email.Tracker) Option {
	return func(d *Dispatcher) {
		d.tracker = t
	}
}

// New returns a Dispatcher sending through t and recording deliveries in db
func New(t email.Transport, db data.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		db:        db,
		rateLimit: DefaultRateLimit,
		pause:     DefaultPause,
		sleep:     time.Sleep,
		clock:     time.Now,
		locators:  DefaultLocators,
	}

	for _, o := range opts {
		o(d)
	}

	return d
}

// Dispatch sends every job and returns one result per job in input order. Jobs of a batch are
// sent concurrently, a failed job never stops the others.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []Job) []Result {
	jobs = withIDs(jobs)
	results := make([]Result, len(jobs))

	batches := Batches(jobs, d.rateLimit)
	offset := 0

	for i, batch := range batches {
		var g errgroup.Group

		for j, job := range batch {
			idx := offset + j
			job := job
			g.Go(func() error {
				results[idx] = d.send(ctx, job)
				return nil
			})
		}

		_ = g.Wait()
		offset += len(batch)

		log.WithFields(log.Fields{
			"batch": i + 1,
			"of":    len(batches),
			"jobs":  len(batch),
		}).Info("Dispatcher: batch sent")

		if i < len(batches)-1 {
			d.sleep(d.pause)
		}
	}

	return results
}

func withIDs(jobs []Job) []Job {
	out := make([]Job, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.Must(uuid.NewRandom()).String()
		}
		out[i] = j
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, j Job) Result {
	lg := log.WithFields(log.Fields{
		"job_id":  j.ID,
		"send_id": j.SendID,
	})

	if j.RecipientEmail == "" {
		metrics.EmailsSent.WithLabelValues("invalid").Inc()
		return Result{JobID: j.ID, OK: false, Error: "missing recipient email", Code: "invalid_job"}
	}

	html := j.HTMLBody
	if d.tracker != nil {
		tracked, err := d.tracker.Instrument(html, email.TrackingRef{
			EditionID:      j.NewsletterID,
			SendID:         j.SendID,
			RecipientID:    j.RecipientID,
			SubscriptionID: j.SubscriptionID,
		})
		if err != nil {
			lg.WithError(err).Warn("Dispatcher: failed to add tracking, sending as is")
		} else {
			html = tracked
		}
	}

	id, err := d.transport.Send(ctx, email.Message{
		To:      j.RecipientEmail,
		Subject: j.Subject,
		HTML:    html,
		Tags:    tags(j),
	})
	if err != nil {
		metrics.EmailsSent.WithLabelValues("failed").Inc()
		lg.WithError(err).Error("Dispatcher: failed to send email")

		msg := err.Error()
		var se *email.SendError
		if errors.As(err, &se) {
			msg = se.Message
		}
		return Result{JobID: j.ID, OK: false, Error: msg, Code: email.ErrorCode(err)}
	}

	metrics.EmailsSent.WithLabelValues("sent").Inc()

	return Result{JobID: j.ID, OK: true, MessageID: id, RecordedBy: d.record(ctx, lg, j, id)}
}

func tags(j Job) map[string]string {
	t := map[string]string{}
	if j.NewsletterID != "" {
		t["edition"] = j.NewsletterID
	}
	if j.SendID != "" {
		t["send"] = j.SendID
	}
	return t
}

// record writes the message id with the first locator that applies and succeeds. It returns the
// name of that locator or "" when none did.
func (d *Dispatcher) record(ctx context.Context, lg *log.Entry, j Job, messageID string) string {
	fields := data.Fields{
		data.FieldTransportMessageID: messageID,
		data.FieldSentAt:             d.clock().UTC(),
	}

	for _, l := range d.locators {
		paths, err := l.Locate(ctx, d.db, j)
		if err != nil {
			lg.WithError(err).WithField("strategy", l.Name).Warn("Dispatcher: failed to locate delivery record")
			continue
		}

		written := 0
		for _, p := range paths {
			if err := d.db.Update(ctx, p, fields); err != nil {
				lg.WithError(err).WithFields(log.Fields{"strategy": l.Name, "path": p}).Debug("Dispatcher: delivery record not written")
				continue
			}
			written++
		}

		if written > 0 {
			metrics.DeliveryRecords.WithLabelValues(l.Name).Inc()
			return l.Name
		}
	}

	metrics.BestEffortFailures.WithLabelValues("delivery_record").Inc()
	lg.WithField("message_id", messageID).Warn("Dispatcher: no delivery record written")
	return ""
}
