// Package dispatch matches posted jobs with fulfillers. Each live job has
// an Engine that advertises it, escalates its price while nobody bites,
// rotates exclusive negotiation rights through a FIFO queue, and assigns it
// at most once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/scheduler"
)

const (
	DefaultAdvertisePeriod  = 2 * time.Minute
	DefaultRotationPeriod   = time.Minute
	DefaultEscalationFactor = 1.0578
	DefaultMarginFloor      = 1.05
)

var newJobID = func() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

type Config struct {
	Store       Store
	Pricer      Pricer
	Advertiser  Advertiser
	Sender      channel.Sender
	Sessions    Sessions
	Scheduler   scheduler.Scheduler
	Notifier    notify.Notifier
	Negotiation NegotiationFlow
	Logger      *slog.Logger

	// AdvertisePeriod is how long an unanswered ad runs before the price
	// is raised.
	AdvertisePeriod time.Duration
	// RotationPeriod is how long the queue head has to accept.
	RotationPeriod   time.Duration
	EscalationFactor float64
	// MarginFloor stops escalation once PriceForFulfiller*MarginFloor
	// exceeds PriceForRequester.
	MarginFloor float64
	// InterestLink returns a link fulfillers follow to ask for a job.
	InterestLink func(jobID string) string
}

// Dispatcher owns the engines of every live job and is the only writer of
// job state. It is not safe for concurrent use; call it from the scheduler
// thread.
type Dispatcher struct {
	cfg     Config
	engines map[string]*Engine
}

func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("dispatch: store must not be nil")
	case cfg.Pricer == nil:
		return nil, errors.New("dispatch: pricer must not be nil")
	case cfg.Advertiser == nil:
		return nil, errors.New("dispatch: advertiser must not be nil")
	case cfg.Sender == nil:
		return nil, errors.New("dispatch: sender must not be nil")
	case cfg.Sessions == nil:
		return nil, errors.New("dispatch: sessions must not be nil")
	case cfg.Scheduler == nil:
		return nil, errors.New("dispatch: scheduler must not be nil")
	case cfg.Negotiation == nil:
		return nil, errors.New("dispatch: negotiation flow must not be nil")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AdvertisePeriod <= 0 {
		cfg.AdvertisePeriod = DefaultAdvertisePeriod
	}
	if cfg.RotationPeriod <= 0 {
		cfg.RotationPeriod = DefaultRotationPeriod
	}
	if cfg.EscalationFactor <= 1 {
		cfg.EscalationFactor = DefaultEscalationFactor
	}
	if cfg.MarginFloor <= 0 {
		cfg.MarginFloor = DefaultMarginFloor
	}
	if cfg.InterestLink == nil {
		cfg.InterestLink = func(string) string { return "" }
	}
	return &Dispatcher{cfg: cfg, engines: make(map[string]*Engine)}, nil
}

// CreateJob prices the draft if needed, persists it and starts advertising.
func (d *Dispatcher) CreateJob(ctx context.Context, draft domain.JobDraft) (*domain.Job, error) {
	if !draft.Size.Valid() {
		return nil, fmt.Errorf("dispatch: invalid package size %q", draft.Size)
	}
	if !draft.Speed.Valid() {
		return nil, fmt.Errorf("dispatch: invalid speed %q", draft.Speed)
	}

	now := d.cfg.Scheduler.Now()
	job := domain.Job{
		ID:                d.nextID(),
		Status:            domain.StatusOpen,
		Requester:         draft.Requester,
		Size:              draft.Size,
		Speed:             draft.Speed,
		Pickup:            draft.Pickup,
		Dropoff:           draft.Dropoff,
		PickupContact:     draft.PickupContact,
		DropoffContact:    draft.DropoffContact,
		Notes:             draft.Notes,
		PriceForRequester: draft.PriceForRequester,
		PriceForFulfiller: draft.PriceForFulfiller,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if job.PriceForRequester == 0 || job.PriceForFulfiller == 0 {
		q, err := d.cfg.Pricer.Quote(job.Pickup, job.Dropoff, job.Size, job.Speed, job.Requester.Returning)
		if err != nil {
			return nil, fmt.Errorf("dispatch: price job: %w", err)
		}
		if job.PriceForRequester == 0 {
			job.PriceForRequester = q.Requester
		}
		if job.PriceForFulfiller == 0 {
			job.PriceForFulfiller = q.Fulfiller
		}
	}
	if err := d.cfg.Store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("dispatch: save job %s: %w", job.ID, err)
	}

	e := newEngine(d, job)
	d.engines[job.ID] = e
	d.cfg.Logger.Info("job created", "job_id", job.ID, "requester", job.Requester.Phone,
		"price_requester", job.PriceForRequester, "price_fulfiller", job.PriceForFulfiller)
	d.cfg.Notifier.Notify(ctx, notify.SeverityInfo, newJobReport(job))
	e.advertise(ctx)

	created := e.job
	return &created, nil
}

func (d *Dispatcher) nextID() string {
	for {
		id := newJobID()
		if _, taken := d.engines[id]; !taken {
			return id
		}
	}
}

func (d *Dispatcher) engine(jobID string) (*Engine, error) {
	e, ok := d.engines[strings.ToUpper(strings.TrimSpace(jobID))]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e, nil
}

func (d *Dispatcher) release(e *Engine) {
	if d.engines[e.job.ID] == e {
		delete(d.engines, e.job.ID)
	}
}

// Interest adds f to the job's queue.
func (d *Dispatcher) Interest(ctx context.Context, jobID string, f domain.Fulfiller) error {
	e, err := d.engine(jobID)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, f)
}

func (d *Dispatcher) ConfirmPickup(ctx context.Context, jobID string, f domain.Fulfiller) error {
	e, err := d.engine(jobID)
	if err != nil {
		return err
	}
	return e.confirmPickup(ctx, f)
}

func (d *Dispatcher) ConfirmDelivery(ctx context.Context, jobID string, f domain.Fulfiller) error {
	e, err := d.engine(jobID)
	if err != nil {
		return err
	}
	return e.confirmDelivery(ctx, f)
}

// Cancel cancels a job on behalf of its requester.
func (d *Dispatcher) Cancel(ctx context.Context, jobID, requesterPhone string) error {
	e, err := d.engine(jobID)
	if err != nil {
		return err
	}
	return e.cancel(ctx, requesterPhone)
}

// Engine returns the engine of a live job.
func (d *Dispatcher) Engine(jobID string) (*Engine, bool) {
	e, err := d.engine(jobID)
	return e, err == nil
}

func (d *Dispatcher) Job(jobID string) (domain.Job, bool) {
	e, err := d.engine(jobID)
	if err != nil {
		return domain.Job{}, false
	}
	return e.job, true
}

// ActiveJobsFor lists the jobs a fulfiller holds and has not delivered.
func (d *Dispatcher) ActiveJobsFor(phone string) []domain.Job {
	return d.jobs(func(j domain.Job) bool {
		return j.FulfillerPhone == phone &&
			(j.Status == domain.StatusAssigned || j.Status == domain.StatusInProgress)
	})
}

func (d *Dispatcher) OpenJobs() []domain.Job {
	return d.jobs(func(j domain.Job) bool { return j.Status == domain.StatusOpen })
}

func (d *Dispatcher) jobs(keep func(domain.Job) bool) []domain.Job {
	var out []domain.Job
	for _, e := range d.engines {
		if keep(e.job) {
			out = append(out, e.job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
