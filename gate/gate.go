package gate

import (
	"context"
	"errors"
	"time"

	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/metrics"
	log "github.com/sirupsen/logrus"
)

// DefaultThreshold is the number of openings after which a send is treated as shared
const DefaultThreshold = 5

// Page is a rendered newsletter
type Page struct {
	HTML      string
	Edition   data.Edition
	Recipient data.Recipient
}

// Gate checks newsletter links and renders the edition for the recipient they belong to
type Gate struct {
	db        data.Store
	threshold int64
	location  *time.Location
	clock     func() time.Time
	beacon    Beacon
	bg        *Background
}

// Option configures a Gate
type Option func(*Gate)

// WithThreshold overrides DefaultThreshold
func WithThreshold(n int64) Option {
	return func(g *Gate) {
		g.threshold = n
	}
}

// WithLocation sets the time zone of the watermark timestamp
func WithLocation(l *time.Location) Option {
	return func(g *Gate) {
		g.location = l
	}
}

// WithClock replaces time.Now
func WithClock(c func() time.Time) Option {
	return func(g *Gate) {
		g.clock = c
	}
}

// WithBeacon reports every rendered link to b, detached on bg
func WithBeacon(b Beacon, bg *Background) Option {
	return func(g *Gate) {
		g.beacon = b
		g.bg = bg
	}
}

// New returns a Gate reading from db
func New(db data.Store, opts ...Option) *Gate {
	g := &Gate{
		db:        db,
		threshold: DefaultThreshold,
		location:  time.UTC,
		clock:     time.Now,
	}

	for _, o := range opts {
		o(g)
	}

	return g
}

// Open validates req and renders the newsletter. Any error is a *Denial.
func (g *Gate) Open(ctx context.Context, req Request) (*Page, error) {
	p, err := g.open(ctx, req)

	outcome := "rendered"
	if err != nil {
		var d *Denial
		if errors.As(err, &d) {
			outcome = d.Kind.String()
		}
	}
	metrics.GateOutcomes.WithLabelValues(outcome).Inc()

	return p, err
}

func (g *Gate) open(ctx context.Context, req Request) (*Page, error) {
	req, ok := req.normalize()
	if !ok {
		return nil, deny(MalformedRequest, MsgInvalidLink)
	}

	ref := req.SendRef()
	lg := log.WithFields(log.Fields{
		"edition_id":   req.EditionID,
		"send_id":      req.SendID,
		"recipient_id": req.RecipientID,
		"segment":      ref.Segment(),
	})

	doc, err := g.db.Get(ctx, ref.Path())
	if err == data.ErrNotFound {
		return nil, deny(NotFound, MsgSendNotFound)
	}
	if err != nil {
		lg.WithError(err).Error("Gate.Open: failed to get send record")
		return nil, &Denial{Kind: Unavailable, Message: MsgUnavailable, Err: err}
	}

	rec := data.SendRecordFromDocument(doc)

	if rec.AccessToken != req.AccessToken {
		lg.Warn("Gate.Open: access token mismatch")
		return nil, deny(Unauthorized, MsgInvalidToken)
	}

	now := g.clock()

	if rec.Expired(now) {
		return nil, deny(Expired, MsgLinkExpired)
	}

	accesses := g.countAccess(ctx, lg, rec, now)

	edDoc, err := g.db.Get(ctx, data.EditionPath(req.EditionID))
	if err == data.ErrNotFound {
		return nil, deny(NotFound, MsgEditionNotFound)
	}
	if err != nil {
		lg.WithError(err).Error("Gate.Open: failed to get edition")
		return nil, &Denial{Kind: Unavailable, Message: MsgUnavailable, Err: err}
	}

	rcDoc, err := g.db.Get(ctx, data.RecipientPath(ref.Segment(), req.RecipientID))
	if err == data.ErrNotFound {
		return nil, deny(NotFound, MsgRecipientNotFound)
	}
	if err != nil {
		lg.WithError(err).Error("Gate.Open: failed to get recipient")
		return nil, &Denial{Kind: Unavailable, Message: MsgUnavailable, Err: err}
	}

	if accesses > g.threshold || rec.SharingFlagged {
		if !rec.SharingFlagged {
			err := g.db.Update(ctx, rec.Path, data.Fields{data.FieldSharingFlagged: true})
			if err != nil {
				metrics.BestEffortFailures.WithLabelValues("flag_sharing").Inc()
				lg.WithError(err).Warn("Gate.Open: failed to flag sharing")
			}
		}
		lg.WithField("total_accesses", accesses).Info("Gate.Open: link over shared")
		return nil, deny(AbuseSuspected, MsgExclusive)
	}

	edition := data.EditionFromDocument(edDoc)
	recipient := data.RecipientFromDocument(rcDoc, ref.Segment())

	content := Substitute(Assemble(edition, recipient.Segment), Placeholders(req, edition, recipient))

	page, err := Watermark(content, WatermarkText(recipient, now.In(g.location)))
	if err != nil {
		lg.WithError(err).Error("Gate.Open: failed to watermark")
		return nil, &Denial{Kind: Unavailable, Message: MsgUnavailable, Err: err}
	}

	if g.beacon != nil && g.bg != nil {
		g.bg.Go(ctx, "click_beacon", func(ctx context.Context) error {
			return g.beacon.Observe(ctx, req)
		})
	}

	return &Page{HTML: page, Edition: edition, Recipient: recipient}, nil
}

// countAccess increments the access counter and returns the new count, or the count read before
// when the write failed
func (g *Gate) countAccess(ctx context.Context, lg *log.Entry, rec data.SendRecord, now time.Time) int64 {
	n, err := g.db.Increment(ctx, rec.Path, data.FieldTotalAccesses, 1)
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("count_access").Inc()
		lg.WithError(err).Warn("Gate.Open: failed to increment access count")
		return rec.TotalAccesses
	}

	err = g.db.Update(ctx, rec.Path, data.Fields{data.FieldLastAccessedAt: now.UTC()})
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("last_accessed").Inc()
		lg.WithError(err).Warn("Gate.Open: failed to set last access")
	}

	return n
}
