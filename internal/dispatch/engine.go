package dispatch

import (
	"context"
	"math"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/scheduler"
)

// Engine drives one job from advertisement to delivery. It is only touched
// from the scheduler thread.
type Engine struct {
	d     *Dispatcher
	job   domain.Job
	queue Queue
	ads   []Ad

	// audience is everyone who saw the ad or asked for the job, in order.
	audience []string
	reached  map[string]bool

	advertiseTimer scheduler.Timer
	rotationTimer  scheduler.Timer
	negotiation    *dialog.Session
}

func newEngine(d *Dispatcher, job domain.Job) *Engine {
	return &Engine{d: d, job: job, reached: make(map[string]bool)}
}

func (e *Engine) Job() domain.Job { return e.job }

// Queue returns the fulfillers waiting for the job, head first.
func (e *Engine) Queue() []domain.Fulfiller { return e.queue.Snapshot() }

// Negotiation returns the head's live negotiation session, if any.
func (e *Engine) Negotiation() *dialog.Session { return e.negotiation }

func (e *Engine) reach(phone string) {
	if phone == "" || e.reached[phone] {
		return
	}
	e.reached[phone] = true
	e.audience = append(e.audience, phone)
}

func (e *Engine) tell(ctx context.Context, phone, text string) {
	if _, err := e.d.cfg.Sender.Send(ctx, phone, channel.Text(text)); err != nil {
		e.d.cfg.Logger.Warn("failed to message", "job_id", e.job.ID, "to", phone, "err", err)
	}
}

func (e *Engine) persistFailed(ctx context.Context, op string, err error) {
	e.d.cfg.Logger.Error("failed to persist job", "job_id", e.job.ID, "op", op, "err", err)
	e.d.cfg.Notifier.Notify(ctx, notify.SeverityError, "Could not save job "+e.job.ID+" ("+op+"): "+err.Error())
}

func (e *Engine) advertise(ctx context.Context) {
	text := advertText(e.job, e.d.cfg.InterestLink(e.job.ID))
	ads, err := e.d.cfg.Advertiser.Advertise(ctx, e.job, text)
	if err != nil {
		e.d.cfg.Logger.Warn("advertisement partly failed", "job_id", e.job.ID, "err", err)
	}
	e.ads = append(e.ads, ads...)
	for _, ad := range ads {
		e.reach(ad.Recipient)
	}
	e.armAdvertise(ctx)
}

func (e *Engine) armAdvertise(ctx context.Context) {
	scheduler.StopTimer(e.advertiseTimer)
	ctx = context.WithoutCancel(ctx)
	e.advertiseTimer = e.d.cfg.Scheduler.After(e.d.cfg.AdvertisePeriod, func() { e.onAdvertiseTick(ctx) })
}

func (e *Engine) onAdvertiseTick(ctx context.Context) {
	if e.job.Status != domain.StatusOpen {
		return
	}
	if e.queue.Len() > 0 {
		e.armAdvertise(ctx)
		return
	}
	if float64(e.job.PriceForFulfiller)*e.d.cfg.MarginFloor > float64(e.job.PriceForRequester) {
		e.advertiseTimer = nil
		e.d.cfg.Logger.Warn("job underpriced, escalation stopped", "job_id", e.job.ID, "price", e.job.PriceForFulfiller)
		e.d.cfg.Notifier.Notify(ctx, notify.SeverityAlert, underpricedAlert(e.job))
		return
	}

	next := int(math.Floor(float64(e.job.PriceForFulfiller) * e.d.cfg.EscalationFactor))
	if next <= e.job.PriceForFulfiller {
		next = e.job.PriceForFulfiller + 1
	}
	e.job.PriceForFulfiller = next
	e.job.UpdatedAt = e.d.cfg.Scheduler.Now()
	e.d.cfg.Logger.Info("raised fulfiller price", "job_id", e.job.ID, "price", next)
	if err := e.d.cfg.Store.UpdateFulfillerPrice(ctx, e.job.ID, next); err != nil {
		e.persistFailed(ctx, "update_price", err)
	}
	e.advertise(ctx)
}

func (e *Engine) enqueue(ctx context.Context, f domain.Fulfiller) error {
	if e.job.Status != domain.StatusOpen {
		return ErrJobClosed
	}
	head, err := e.queue.Enqueue(f)
	if err != nil {
		return err
	}
	e.reach(f.Phone)
	e.d.cfg.Logger.Info("fulfiller queued", "job_id", e.job.ID, "fulfiller", f.Phone, "position", e.queue.Len())

	if !head {
		e.tell(ctx, f.Phone, waitText(e.job, e.queue.Len()))
		return nil
	}
	e.offerHead(ctx)
	return nil
}

// offerHead opens a negotiation with the queue head and arms the rotation
// timer. Heads whose negotiation cannot be started are dropped.
func (e *Engine) offerHead(ctx context.Context) {
	for {
		head, ok := e.queue.Head()
		if !ok {
			return
		}
		if e.startNegotiation(ctx, head) {
			e.armRotation(ctx)
			return
		}
		e.queue.Pop()
	}
}

// startNegotiation offers the job to f and reports whether the
// conversation is live.
func (e *Engine) startNegotiation(ctx context.Context, f domain.Fulfiller) bool {
	client := &negotiationClient{engine: e, fulfiller: f}
	initial := map[string]any{VarJob: e.job, VarFulfiller: f}
	hookCtx := context.WithoutCancel(ctx)
	s, err := e.d.cfg.Sessions.Start(ctx, f, e.d.cfg.Negotiation(client), initial,
		dialog.WithOnEnd(func(ended *dialog.Session, reason dialog.EndReason) {
			if e.negotiation != ended {
				return
			}
			e.negotiation = nil
			e.onNegotiationLost(hookCtx, f, reason)
		}))
	if err != nil {
		e.d.cfg.Logger.Warn("failed to start negotiation", "job_id", e.job.ID, "fulfiller", f.Phone, "err", err)
		return false
	}
	if s.Terminated() {
		e.d.cfg.Logger.Warn("negotiation ended on start", "job_id", e.job.ID, "fulfiller", f.Phone)
		return false
	}
	e.negotiation = s
	return true
}

// onNegotiationLost passes the turn on when the head's conversation ends
// without an answer: cancelled, replaced by another conversation or timed
// out.
func (e *Engine) onNegotiationLost(ctx context.Context, f domain.Fulfiller, reason dialog.EndReason) {
	if reason == dialog.EndCompleted || e.job.Status != domain.StatusOpen || !e.isHead(f) {
		return
	}
	e.d.cfg.Logger.Info("negotiation abandoned", "job_id", e.job.ID, "fulfiller", f.Phone, "reason", reason)
	e.rotate(ctx, false)
}

func (e *Engine) endNegotiation() {
	if s := e.negotiation; s != nil {
		e.negotiation = nil
		s.Destroy(dialog.EndCancelled)
	}
}

func (e *Engine) armRotation(ctx context.Context) {
	scheduler.StopTimer(e.rotationTimer)
	ctx = context.WithoutCancel(ctx)
	e.rotationTimer = e.d.cfg.Scheduler.After(e.d.cfg.RotationPeriod, func() { e.onRotationTimeout(ctx) })
}

func (e *Engine) onRotationTimeout(ctx context.Context) {
	e.rotationTimer = nil
	if e.job.Status != domain.StatusOpen {
		return
	}
	e.rotate(ctx, true)
}

// rotate drops the head and offers the job to the next fulfiller.
func (e *Engine) rotate(ctx context.Context, timedOut bool) {
	scheduler.StopTimer(e.rotationTimer)
	e.rotationTimer = nil

	if head, ok := e.queue.Pop(); ok {
		e.endNegotiation()
		if timedOut {
			e.tell(ctx, head.Phone, timeUpText(e.job))
		}
	}
	e.offerHead(ctx)
}

func (e *Engine) isHead(f domain.Fulfiller) bool {
	head, ok := e.queue.Head()
	return ok && head.Phone == f.Phone
}

func (e *Engine) decline(ctx context.Context, f domain.Fulfiller) error {
	if e.job.Status != domain.StatusOpen || !e.isHead(f) {
		return ErrAssignmentRace
	}
	e.d.cfg.Logger.Info("fulfiller declined", "job_id", e.job.ID, "fulfiller", f.Phone)
	// The declining conversation ends through its own handler.
	e.negotiation = nil
	e.rotate(ctx, false)
	return nil
}

func (e *Engine) accept(ctx context.Context, f domain.Fulfiller) error {
	if e.job.Status != domain.StatusOpen || !e.isHead(f) {
		return ErrAssignmentRace
	}

	e.job.Status = domain.StatusAssigned
	e.job.FulfillerID = f.RecordID
	e.job.FulfillerPhone = f.Phone
	e.job.UpdatedAt = e.d.cfg.Scheduler.Now()
	e.stopTimers()
	e.negotiation = nil
	e.queue.Clear()
	e.d.cfg.Logger.Info("job assigned", "job_id", e.job.ID, "fulfiller", f.Phone, "price", e.job.PriceForFulfiller)

	for _, phone := range e.audience {
		if phone != f.Phone {
			e.tell(ctx, phone, soldText(e.job))
		}
	}
	e.withdraw(ctx)

	if err := e.d.cfg.Store.AssignJob(ctx, e.job.ID, f); err != nil {
		e.persistFailed(ctx, "assign", err)
	}
	e.d.cfg.Notifier.Notify(ctx, notify.SeverityInfo, soldReport(e.job, f))
	e.tell(ctx, e.job.Requester.Phone, matchedText(e.job, f))
	return nil
}

func (e *Engine) confirmPickup(ctx context.Context, f domain.Fulfiller) error {
	if e.job.Status != domain.StatusAssigned || !e.job.AssignedTo(f) {
		return ErrInvalidTransition
	}
	e.job.Status = domain.StatusInProgress
	e.job.UpdatedAt = e.d.cfg.Scheduler.Now()
	if err := e.d.cfg.Store.UpdateStatus(ctx, e.job.ID, e.job.Status); err != nil {
		e.persistFailed(ctx, "pickup", err)
	}
	e.tell(ctx, e.job.Requester.Phone, pickedUpText(e.job))
	return nil
}

func (e *Engine) confirmDelivery(ctx context.Context, f domain.Fulfiller) error {
	if e.job.Status != domain.StatusInProgress || !e.job.AssignedTo(f) {
		return ErrInvalidTransition
	}
	e.job.Status = domain.StatusCompleted
	e.job.UpdatedAt = e.d.cfg.Scheduler.Now()
	if err := e.d.cfg.Store.ArchiveJob(ctx, e.job); err != nil {
		e.persistFailed(ctx, "archive", err)
	}
	e.d.release(e)
	e.tell(ctx, e.job.Requester.Phone, deliveredText(e.job))
	e.d.cfg.Notifier.Notify(ctx, notify.SeverityInfo, "Job "+e.job.ID+" delivered by +"+f.Phone+".")
	return nil
}

func (e *Engine) cancel(ctx context.Context, requesterPhone string) error {
	if e.job.Requester.Phone != requesterPhone {
		return ErrNotOwner
	}
	prev := e.job.Status
	if prev != domain.StatusOpen && prev != domain.StatusAssigned {
		return ErrInvalidTransition
	}

	e.job.Status = domain.StatusCancelled
	e.job.UpdatedAt = e.d.cfg.Scheduler.Now()
	e.stopTimers()
	e.endNegotiation()
	for _, f := range e.queue.Clear() {
		e.tell(ctx, f.Phone, cancelledText(e.job))
	}
	if prev == domain.StatusAssigned {
		e.tell(ctx, e.job.FulfillerPhone, cancelledText(e.job))
	}
	e.withdraw(ctx)

	if err := e.d.cfg.Store.UpdateStatus(ctx, e.job.ID, e.job.Status); err != nil {
		e.persistFailed(ctx, "cancel", err)
	}
	e.d.release(e)
	e.d.cfg.Notifier.Notify(ctx, notify.SeverityInfo, "Job "+e.job.ID+" was cancelled by the requester.")
	return nil
}

func (e *Engine) withdraw(ctx context.Context) {
	if len(e.ads) == 0 {
		return
	}
	if err := e.d.cfg.Advertiser.Withdraw(ctx, e.ads); err != nil {
		e.d.cfg.Logger.Warn("failed to withdraw ads", "job_id", e.job.ID, "err", err)
	}
	e.ads = nil
}

func (e *Engine) stopTimers() {
	scheduler.StopTimer(e.advertiseTimer)
	scheduler.StopTimer(e.rotationTimer)
	e.advertiseTimer = nil
	e.rotationTimer = nil
}

type negotiationClient struct {
	engine    *Engine
	fulfiller domain.Fulfiller
}

func (c *negotiationClient) Job() domain.Job             { return c.engine.job }
func (c *negotiationClient) Fulfiller() domain.Fulfiller { return c.fulfiller }

func (c *negotiationClient) Accept(ctx context.Context) error {
	return c.engine.accept(ctx, c.fulfiller)
}

func (c *negotiationClient) Decline(ctx context.Context) error {
	return c.engine.decline(ctx, c.fulfiller)
}
