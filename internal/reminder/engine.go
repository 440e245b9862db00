// Package reminder emails move managers about jobs that are close to their
// start date and still miss required documents.
//
// Reminders fire on exactly two days: seven days before the start (labelled
// "7 days") and two days before ("48 hours"). Nothing about past sends is
// stored, so running the engine twice on the same day sends twice.
package reminder

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opsbridge.org/internal/audit"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/obs"
	"opsbridge.org/internal/store"
)

// Threshold is a reminder lead time.
type Threshold struct {
	Days  int
	Label string
}

var thresholds = []Threshold{
	{Days: 7, Label: "7 days"},
	{Days: 2, Label: "48 hours"},
}

func thresholdFor(days int) (Threshold, bool) {
	for _, t := range thresholds {
		if t.Days == days {
			return t, true
		}
	}
	return Threshold{}, false
}

// Decision is one reminder to send. It is recomputed on every run.
type Decision struct {
	JobID     string
	Threshold Threshold
	Missing   []Slug
	Recipient string
	StartsAt  time.Time
	Job       JobRecord
}

// MissingLabels returns the display names of the missing documents.
func (d Decision) MissingLabels() []string {
	out := make([]string, len(d.Missing))
	for i, s := range d.Missing {
		out[i] = s.Label()
	}
	return out
}

// Datasets reads stored records; store.Store satisfies it.
type Datasets interface {
	List(ctx context.Context, table string) ([]store.Record, error)
}

// Sender delivers one reminder.
type Sender interface {
	SendReminder(ctx context.Context, d Decision) error
}

// Config wires an Engine.
type Config struct {
	Datasets      Datasets
	Sender        Sender
	JobsTable     string
	ContactsTable string
	// Preflight runs before any dataset read; an error aborts the run.
	// The mail wiring uses it to obtain the Graph token up front.
	Preflight func(ctx context.Context) error
	// Location interprets start dates; nil means UTC.
	Location *time.Location
	Logger   *zap.SugaredLogger
}

// Engine computes and sends reminders.
type Engine struct {
	cfg Config
	log *zap.SugaredLogger
}

// New returns an Engine. Empty table names default to OpsClientJobs and
// OpsMoveManagers.
func New(cfg Config) *Engine {
	if cfg.JobsTable == "" {
		cfg.JobsTable = "OpsClientJobs"
	}
	if cfg.ContactsTable == "" {
		cfg.ContactsTable = "OpsMoveManagers"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{cfg: cfg, log: log}
}

// Run sends every reminder due at now and returns how many were delivered.
// A failed preflight or dataset read aborts the run; a failed send is logged
// and the remaining jobs are still processed.
func (e *Engine) Run(ctx context.Context, now time.Time) (int, error) {
	runID := uuid.NewString()
	log := e.log.With("run_id", runID)

	if e.cfg.Preflight != nil {
		if err := e.cfg.Preflight(ctx); err != nil {
			obs.CountReminderRun("aborted")
			log.Errorw("reminder run aborted", "stage", "preflight", "error", err)
			return 0, errs.Wrap(err, "reminder preflight")
		}
	}

	decisions, err := e.plan(ctx, now, log)
	if err != nil {
		obs.CountReminderRun("aborted")
		log.Errorw("reminder run aborted", "stage", "datasets", "error", err)
		return 0, err
	}

	sent, failed := 0, 0
	for _, d := range decisions {
		if err := e.cfg.Sender.SendReminder(ctx, d); err != nil {
			failed++
			err = errs.Mark(err, errs.ErrPartialRun)
			log.Errorw("reminder failed", "job", d.JobID, "recipient", d.Recipient, "threshold", d.Threshold.Label, "error", err)
			continue
		}
		sent++
		obs.CountReminderSent(d.Threshold.Label)
		log.Infow("reminder sent", "job", d.JobID, "recipient", d.Recipient, "threshold", d.Threshold.Label, "missing", len(d.Missing))
		if aerr := audit.LogEvent(ctx, "reminder_sent", map[string]any{
			"run_id":    runID,
			"job":       d.JobID,
			"recipient": d.Recipient,
			"threshold": d.Threshold.Label,
			"missing":   d.MissingLabels(),
		}); aerr != nil {
			log.Warnw("audit write failed", "error", aerr)
		}
	}

	outcome := "ok"
	if failed > 0 {
		outcome = "partial"
	}
	obs.CountReminderRun(outcome)
	log.Infow("reminder run complete", "sent", sent, "failed", failed, "candidates", len(decisions))
	return sent, nil
}

// Plan returns the reminders due at now without sending them.
func (e *Engine) Plan(ctx context.Context, now time.Time) ([]Decision, error) {
	return e.plan(ctx, now, e.log)
}

func (e *Engine) plan(ctx context.Context, now time.Time, log *zap.SugaredLogger) ([]Decision, error) {
	jobs, err := e.cfg.Datasets.List(ctx, e.cfg.JobsTable)
	if err != nil {
		return nil, errs.Wrapf(err, "read %s", e.cfg.JobsTable)
	}
	contactRecords, err := e.cfg.Datasets.List(ctx, e.cfg.ContactsTable)
	if err != nil {
		return nil, errs.Wrapf(err, "read %s", e.cfg.ContactsTable)
	}
	contacts := indexContacts(contactRecords, log)

	var out []Decision
	for _, rec := range jobs {
		var job JobRecord
		if err := rec.Decode(&job); err != nil {
			log.Warnw("skipping unreadable job record", "row_key", rec.RowKey, "error", err)
			continue
		}
		if job.ID == "" {
			job.ID = Ref(rec.RowKey)
		}
		d, ok := e.evaluate(job, contacts, now, log)
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *Engine) evaluate(job JobRecord, contacts map[string]ContactRecord, now time.Time, log *zap.SugaredLogger) (Decision, bool) {
	if job.Skippable() {
		return Decision{}, false
	}
	start, err := job.StartsAt(e.cfg.Location)
	if err != nil {
		log.Warnw("skipping job with unparseable start date", "job", job.ID, "start_date", job.StartDate)
		return Decision{}, false
	}
	th, ok := thresholdFor(DaysUntil(start, now))
	if !ok {
		return Decision{}, false
	}
	missing := job.Missing()
	if len(missing) == 0 {
		return Decision{}, false
	}
	contact, ok := contacts[job.MoveManager]
	if !ok || contact.Email == "" {
		log.Infow("no address for move manager, reminder skipped", "job", job.ID, "move_manager", job.MoveManager)
		return Decision{}, false
	}
	return Decision{
		JobID:     string(job.ID),
		Threshold: th,
		Missing:   missing,
		Recipient: contact.Email,
		StartsAt:  start,
		Job:       job,
	}, true
}

// DaysUntil rounds the distance from now to start to whole days.
func DaysUntil(start, now time.Time) int {
	return int(math.Round(start.Sub(now).Hours() / 24))
}

// indexContacts keeps the first record per exact name.
func indexContacts(recs []store.Record, log *zap.SugaredLogger) map[string]ContactRecord {
	out := make(map[string]ContactRecord, len(recs))
	for _, rec := range recs {
		var c ContactRecord
		if err := rec.Decode(&c); err != nil {
			log.Warnw("skipping unreadable contact record", "row_key", rec.RowKey, "error", err)
			continue
		}
		if _, seen := out[c.Name]; seen {
			continue
		}
		out[c.Name] = c
	}
	return out
}
