// Package events publishes research job lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/model"
)

// DefaultSubject is where finished-job events go unless configured otherwise.
const DefaultSubject = "research.job.finished"

// JobFinished is emitted once per job on reaching a terminal state.
type JobFinished struct {
	JobID           string         `json:"job_id"`
	PlaceID         string         `json:"place_id"`
	Trigger         string         `json:"trigger"`
	State           model.JobState `json:"state"`
	WriteBack       bool           `json:"write_back"`
	CrossReferences int            `json:"cross_references"`
	ReviewFlagged   int            `json:"review_flagged"`
	WrittenBack     int            `json:"written_back"`
	Unresolved      int            `json:"unresolved"`
	CostUSD         float64        `json:"cost_usd"`
	Error           string         `json:"error,omitempty"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// Publisher sends job events.
type Publisher interface {
	PublishJobFinished(ctx context.Context, ev JobFinished) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishJobFinished(context.Context, JobFinished) error { return nil }
func (Nop) Close() error                                          { return nil }

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATS publishes events as JSON on a core NATS subject.
type NATS struct {
	conn    conn
	subject string
}

// NewNATS connects to url. An empty subject uses DefaultSubject.
func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("venue-research"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.L().Warn("events: nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "events: connect %s", url)
	}
	return newNATS(nc, subject), nil
}

func newNATS(c conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: c, subject: subject}
}

// PublishJobFinished publishes ev and waits for the server to acknowledge
// the flush so the event is not lost on shutdown.
func (p *NATS) PublishJobFinished(ctx context.Context, ev JobFinished) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal job finished")
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return eris.Wrapf(err, "events: publish %s", p.subject)
	}
	return eris.Wrap(p.conn.FlushWithContext(ctx), "events: flush")
}

// Close drains the connection.
func (p *NATS) Close() error {
	return eris.Wrap(p.conn.Drain(), "events: drain")
}

// FromJob builds the event for a finished job.
func FromJob(job *model.ResearchJob, res *model.JobResult) JobFinished {
	ev := JobFinished{
		JobID:     job.ID,
		PlaceID:   job.PlaceID,
		Trigger:   string(job.Trigger),
		State:     job.State,
		WriteBack: job.WriteBack,
		CostUSD:   job.Usage.Cost,
		Error:     job.Error,
	}
	if job.FinishedAt != nil {
		ev.FinishedAt = *job.FinishedAt
	} else {
		ev.FinishedAt = job.UpdatedAt
	}
	if res != nil {
		ev.CrossReferences = len(res.CrossReferences)
		ev.ReviewFlagged = res.ReviewFlagged
		ev.WrittenBack = res.WrittenBack
		ev.Unresolved = len(res.Unresolved)
	}
	return ev
}
