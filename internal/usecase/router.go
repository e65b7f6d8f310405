// Package usecase routes inbound messages that no conversation consumed:
// keywords, job interest, and the choice of a new conversation for the
// sender.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/trees"
)

// Directory looks up and registers chat partners. Get methods report
// found=false with a nil error for unknown phones.
type Directory interface {
	GetFulfiller(ctx context.Context, phone string) (domain.Fulfiller, bool, error)
	CreateFulfiller(ctx context.Context, phone string) (domain.Fulfiller, error)
	GetRequester(ctx context.Context, phone string) (domain.Requester, bool, error)
	CreateRequester(ctx context.Context, phone string) (domain.Requester, error)
}

type Sessions interface {
	Start(ctx context.Context, partner domain.ChatPartner, root *dialog.Node, initial map[string]any, opts ...dialog.StartOption) (*dialog.Session, error)
	Find(address string) (*dialog.Session, bool)
	Destroy(address string, reason dialog.EndReason) bool
}

// Jobs is the part of the dispatcher the router drives.
type Jobs interface {
	dialog.JobCreator
	Interest(ctx context.Context, jobID string, f domain.Fulfiller) error
	Cancel(ctx context.Context, jobID, requesterPhone string) error
	ActiveJobsFor(phone string) []domain.Job
}

// Flows are the conversation roots the router starts.
type Flows struct {
	Booking       *dialog.Node
	FulfillerJobs *dialog.Node
	Operator      *dialog.Node
}

type Config struct {
	Sessions  Sessions
	Jobs      Jobs
	Directory Directory
	Sender    channel.Sender
	Notifier  notify.Notifier
	Flows     Flows
	Keywords  Keywords
	// Operators are the phones allowed into the operator console.
	Operators []string
	// Closed turns new requesters away with ClosedNotice.
	Closed       bool
	ClosedNotice string
	Logger       *slog.Logger
}

type Router struct {
	cfg       Config
	operators map[string]bool
}

func NewRouter(cfg Config) (*Router, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("usecase: sessions must not be nil")
	}
	if cfg.Jobs == nil {
		return nil, errors.New("usecase: jobs must not be nil")
	}
	if cfg.Directory == nil {
		return nil, errors.New("usecase: directory must not be nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if cfg.Flows.Booking == nil || cfg.Flows.FulfillerJobs == nil || cfg.Flows.Operator == nil {
		return nil, errors.New("usecase: every flow must be set")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Keywords == (Keywords{}) {
		cfg.Keywords = DefaultKeywords()
	}
	if cfg.ClosedNotice == "" {
		cfg.ClosedNotice = "Hi! Bookings are paused for maintenance right now. Please try again later."
	}
	ops := make(map[string]bool, len(cfg.Operators))
	for _, p := range cfg.Operators {
		ops[p] = true
	}
	return &Router{cfg: cfg, operators: ops}, nil
}

// Reserved reports whether ev is a command the router handles even while
// the sender is in a conversation.
func (r *Router) Reserved(ev channel.Event) bool {
	cmd, _ := r.cfg.Keywords.match(textOf(ev))
	switch cmd {
	case cmdNone:
		return false
	case cmdConsole:
		return r.operators[ev.SenderID]
	}
	return true
}

// Listen handles an inbound message. It is subscribed to
// channel.EventMessageReceived without a sender filter, so it sees every
// message a conversation did not consume.
func (r *Router) Listen(ctx context.Context, ev channel.Event) bool {
	from := ev.SenderID
	if from == "" {
		return false
	}
	cmd, jobID := r.cfg.Keywords.match(textOf(ev))
	if cmd == cmdConsole && !r.operators[from] {
		cmd = cmdNone
	}
	_, live := r.cfg.Sessions.Find(from)
	log := r.cfg.Logger.With("counterparty", from)

	var err error
	switch cmd {
	case cmdConsole:
		r.cfg.Sessions.Destroy(from, dialog.EndReplaced)
		err = r.start(ctx, domain.Operator{Phone: from}, r.cfg.Flows.Operator, nil)
	case cmdCancel:
		if r.cfg.Sessions.Destroy(from, dialog.EndCancelled) {
			r.say(ctx, from, fmt.Sprintf("Stopped. Send %q whenever you want to book a delivery.", r.cfg.Keywords.Restart))
		}
	case cmdRestart:
		r.cfg.Sessions.Destroy(from, dialog.EndReplaced)
		err = r.startBooking(ctx, from, true)
	case cmdInterest:
		// A live conversation survives unless the offer replaces it.
		err = r.interest(ctx, from, jobID)
	case cmdCancelJob:
		err = r.cancelJob(ctx, from, jobID)
	default:
		if live {
			log.Debug("reply not consumed by conversation")
			return false
		}
		err = r.route(ctx, from)
	}

	if err != nil {
		r.fail(ctx, from, jobID, err)
	}
	return true
}

// route picks a new conversation for a sender without one.
func (r *Router) route(ctx context.Context, from string) error {
	if r.operators[from] {
		return r.start(ctx, domain.Operator{Phone: from}, r.cfg.Flows.Operator, nil)
	}

	f, known, err := r.cfg.Directory.GetFulfiller(ctx, from)
	if err != nil {
		return newError(ErrorUpstream, "fulfiller_lookup", err)
	}
	if known {
		if len(r.cfg.Jobs.ActiveJobsFor(from)) == 0 {
			r.say(ctx, from, fmt.Sprintf("Hi %s, you have no active jobs right now. New jobs are posted all the time, "+
				"keep an eye out. Want to send a package yourself? Send %q.", f.DisplayName(), r.cfg.Keywords.Restart))
			return nil
		}
		return r.start(ctx, f, r.cfg.Flows.FulfillerJobs, map[string]any{trees.VarFulfiller: f})
	}
	return r.startBooking(ctx, from, false)
}

func (r *Router) startBooking(ctx context.Context, from string, restarted bool) error {
	if r.cfg.Closed && !r.operators[from] {
		r.say(ctx, from, r.cfg.ClosedNotice)
		return nil
	}

	req, found, err := r.cfg.Directory.GetRequester(ctx, from)
	if err != nil {
		return newError(ErrorUpstream, "requester_lookup", err)
	}
	if !found {
		if req, err = r.cfg.Directory.CreateRequester(ctx, from); err != nil {
			return newError(ErrorUpstream, "requester_create", err)
		}
		r.cfg.Logger.Info("new requester", "counterparty", from)
	}

	if err := r.start(ctx, req, r.cfg.Flows.Booking, map[string]any{trees.VarRequester: req},
		dialog.WithJobs(r.cfg.Jobs)); err != nil {
		return err
	}
	verb := "Started"
	if restarted {
		verb = "Restarted"
	}
	r.cfg.Notifier.Notify(ctx, notify.SeverityInfo, fmt.Sprintf("%s a booking with +%s.", verb, from))
	return nil
}

func (r *Router) start(ctx context.Context, partner domain.ChatPartner, root *dialog.Node, vars map[string]any, opts ...dialog.StartOption) error {
	if _, err := r.cfg.Sessions.Start(ctx, partner, root, vars, opts...); err != nil {
		return newError(ErrorInternal, "start_conversation", err)
	}
	return nil
}

func (r *Router) interest(ctx context.Context, from, jobID string) error {
	if jobID == "" {
		return newError(ErrorInvalidInput, "missing_job_id", nil)
	}
	f, known, err := r.cfg.Directory.GetFulfiller(ctx, from)
	if err != nil {
		return newError(ErrorUpstream, "fulfiller_lookup", err)
	}
	if !known {
		if f, err = r.cfg.Directory.CreateFulfiller(ctx, from); err != nil {
			return newError(ErrorUpstream, "fulfiller_create", err)
		}
		r.cfg.Logger.Info("new fulfiller", "counterparty", from)
	}

	err = r.cfg.Jobs.Interest(ctx, jobID, f)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dispatch.ErrJobNotFound):
		return newError(ErrorNotFound, "job_not_found", err)
	case errors.Is(err, dispatch.ErrJobClosed):
		return newError(ErrorConflict, "job_taken", err)
	case errors.Is(err, dispatch.ErrAlreadyQueued):
		return newError(ErrorConflict, "already_queued", err)
	}
	return newError(ErrorInternal, "interest", err)
}

func (r *Router) cancelJob(ctx context.Context, from, jobID string) error {
	if jobID == "" {
		return newError(ErrorInvalidInput, "missing_job_id", nil)
	}
	err := r.cfg.Jobs.Cancel(ctx, jobID, from)
	switch {
	case err == nil:
		r.cfg.Sessions.Destroy(from, dialog.EndCancelled)
		r.say(ctx, from, fmt.Sprintf("Job %s is cancelled.", jobID))
		return nil
	case errors.Is(err, dispatch.ErrJobNotFound), errors.Is(err, dispatch.ErrNotOwner):
		return newError(ErrorNotFound, "job_not_found", err)
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return newError(ErrorConflict, "job_underway", err)
	}
	return newError(ErrorInternal, "cancel_job", err)
}

// fail tells the sender what went wrong. Expected outcomes get a specific
// reply; anything else gets an apology and is reported to operators.
func (r *Router) fail(ctx context.Context, from, jobID string, err error) {
	switch reasonOf(err) {
	case "missing_job_id":
		r.say(ctx, from, "Please include the job number, for example AB12CD34.")
		return
	case "job_not_found":
		r.say(ctx, from, fmt.Sprintf("No job found with number %s.", jobID))
		return
	case "job_taken":
		r.say(ctx, from, fmt.Sprintf("Sorry, job %s was already taken.", jobID))
		return
	case "already_queued":
		r.say(ctx, from, fmt.Sprintf("You're already in line for job %s.", jobID))
		return
	case "job_underway":
		r.say(ctx, from, fmt.Sprintf("Job %s is already on its way and can't be cancelled here. Please contact us.", jobID))
		return
	}

	r.cfg.Logger.Error("failed to route message", "counterparty", from, "job_id", jobID, "err", err)
	r.cfg.Notifier.Notify(ctx, notify.SeverityError, fmt.Sprintf("Failed to handle a message from +%s: %v", from, err))
	r.say(ctx, from, dialog.DefaultApology)
}

func (r *Router) say(ctx context.Context, to, text string) {
	if _, err := r.cfg.Sender.Send(ctx, to, channel.Text(text)); err != nil {
		r.cfg.Logger.Warn("failed to reply", "counterparty", to, "err", err)
	}
}
