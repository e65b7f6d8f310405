package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/scheduler"
)

var newSessionID = func() string { return uuid.NewString() }

type State int

const (
	StateRendering State = iota
	StateAwaitingInput
	StateDispatching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRendering:
		return "rendering"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndIdle      EndReason = "idle_timeout"
	EndCancelled EndReason = "cancelled"
	EndReplaced  EndReason = "replaced"
	EndFailed    EndReason = "failed"
)

// Session walks one counterparty through a node graph. All methods must be
// called from the scheduler thread.
type Session struct {
	id      string
	cfg     *Config
	partner domain.ChatPartner
	origin  *Node
	cur     *Node
	vars    *Vars
	jobs    JobCreator

	state      State
	lastSentID string
	deadline   time.Time
	sub        channel.Subscription
	subscribed bool
	idle       scheduler.Timer
	reason     EndReason
	onEnd      []func(*Session, EndReason)
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Partner() domain.ChatPartner { return s.partner }
func (s *Session) Origin() *Node               { return s.origin }
func (s *Session) Current() *Node              { return s.cur }
func (s *Session) State() State                { return s.state }
func (s *Session) Vars() *Vars                 { return s.vars }
func (s *Session) LastSentID() string          { return s.lastSentID }
func (s *Session) Deadline() time.Time         { return s.deadline }
func (s *Session) Terminated() bool            { return s.state == StateTerminated }

// EndReason is set once the session has terminated.
func (s *Session) EndReason() EndReason { return s.reason }

// OnEnd registers fn to run once when the session terminates.
func (s *Session) OnEnd(fn func(*Session, EndReason)) {
	if s.state == StateTerminated {
		fn(s, s.reason)
		return
	}
	s.onEnd = append(s.onEnd, fn)
}

// Destroy terminates the session, releasing its subscription and idle
// timer. Later calls are no-ops.
func (s *Session) Destroy(reason EndReason) {
	if s.state == StateTerminated {
		return
	}
	s.state = StateTerminated
	s.reason = reason
	if s.subscribed {
		s.cfg.Bus.Unsubscribe(s.sub)
		s.subscribed = false
	}
	scheduler.StopTimer(s.idle)
	s.idle = nil

	hooks := s.onEnd
	s.onEnd = nil
	for _, fn := range hooks {
		fn(s, reason)
	}
}

func (s *Session) logger() *slog.Logger {
	return s.cfg.Logger.With("session", s.id, "counterparty", s.partner.Address(), "node", s.cur.label())
}

func (s *Session) render(ctx context.Context, n *Node) error {
	s.state = StateRendering
	s.cur = n

	content, err := n.Render(s.vars)
	if err != nil {
		s.logger().Error("failed to render node", "err", err)
		s.cfg.Notifier.Notify(ctx, notify.SeverityError,
			fmt.Sprintf("Conversation with %s stopped at %s: %v", s.partner.Address(), n.label(), err))
		s.Destroy(EndFailed)
		return err
	}

	id, err := s.cfg.Sender.Send(ctx, s.partner.Address(), content)
	if err != nil {
		s.logger().Error("failed to send node", "err", err)
		s.cfg.Notifier.Notify(ctx, notify.SeverityError,
			fmt.Sprintf("Could not message %s at %s: %v", s.partner.Address(), n.label(), err))
		s.Destroy(EndFailed)
		return err
	}
	s.lastSentID = id

	if n.AutoContinue {
		s.cfg.Scheduler.Post(func() { s.autoContinue(ctx, n) })
		return nil
	}
	s.await()
	return nil
}

func (s *Session) autoContinue(ctx context.Context, n *Node) {
	if s.state != StateRendering || s.cur != n {
		return
	}
	s.dispatch(ctx, n.Handlers[AnswerKey], nil)
}

func (s *Session) await() {
	s.state = StateAwaitingInput
	s.subscribe()
	scheduler.StopTimer(s.idle)
	s.deadline = s.cfg.Scheduler.Now().Add(s.cfg.IdleTimeout)
	s.idle = s.cfg.Scheduler.After(s.cfg.IdleTimeout, s.expire)
}

func (s *Session) subscribe() {
	if s.subscribed {
		return
	}
	s.sub = s.cfg.Bus.Subscribe(channel.EventMessageReceived, s.onEvent, channel.SubscribeOptions{
		SelfDestruct:   true,
		FilterBySender: s.partner.Address(),
	})
	s.subscribed = true
}

func (s *Session) expire() {
	if s.state == StateTerminated {
		return
	}
	s.logger().Info("conversation expired")
	s.Destroy(EndIdle)
}

func (s *Session) onEvent(ctx context.Context, ev channel.Event) bool {
	if s.state != StateAwaitingInput {
		return false
	}
	if s.cfg.Reserved != nil && s.cfg.Reserved(ev) {
		return false
	}
	if ev.ReplyToID != "" && ev.ReplyToID != s.lastSentID {
		return false
	}
	if !s.cur.accepts(ev) {
		return false
	}

	// Consuming drops the self-destructing subscription.
	s.subscribed = false

	target, err := s.cur.resolve(ev)
	if err != nil {
		s.logger().Warn("dropping unroutable reply", "err", err)
		s.subscribe()
		return true
	}
	s.dispatch(ctx, target, &ev)
	return true
}

func (s *Session) dispatch(ctx context.Context, t Target, ev *channel.Event) {
	s.state = StateDispatching
	scheduler.StopTimer(s.idle)

	switch t.kind {
	case targetGoto:
		_ = s.render(ctx, t.node)
	case targetEnd:
		s.Destroy(EndCompleted)
	case targetCall:
		res, err := s.invoke(ctx, t.fn, ev)
		if s.state == StateTerminated {
			return
		}
		if err != nil {
			s.fail(ctx, err)
			return
		}
		if res.end {
			s.Destroy(EndCompleted)
			return
		}
		if res.next == nil {
			s.fail(ctx, newError(ErrorHandler, s.cur, "continue_without_node", nil))
			return
		}
		_ = s.render(ctx, res.next)
	default:
		s.fail(ctx, newError(ErrorHandler, s.cur, "empty_target", nil))
	}
}

func (s *Session) invoke(ctx context.Context, fn HandlerFunc, ev *channel.Event) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrorHandler, s.cur, "panic", fmt.Errorf("%v", r))
		}
	}()
	res, err = fn(ctx, &Turn{Input: ev, Vars: s.vars, Partner: s.partner, Jobs: s.jobs, Session: s})
	if err != nil {
		err = newError(ErrorHandler, s.cur, "handler_failed", err)
	}
	return res, err
}

// fail reports a handler failure and leaves the session waiting on the
// same node.
func (s *Session) fail(ctx context.Context, err error) {
	s.logger().Error("dialog handler failed", "err", err)
	s.cfg.Notifier.Notify(ctx, notify.SeverityError,
		fmt.Sprintf("Conversation with %s failed at %s: %v", s.partner.Address(), s.cur.label(), err))
	if _, sendErr := s.cfg.Sender.Send(ctx, s.partner.Address(), channel.Text(s.cfg.Apology)); sendErr != nil {
		s.logger().Warn("failed to send apology", "err", sendErr)
	}
	s.await()
}
