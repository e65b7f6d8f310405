package dialog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/scheduler"
)

const (
	DefaultIdleTimeout = 60 * time.Minute
	DefaultApology     = "Sorry, something went wrong on our side. Please try again in a moment."
)

type Config struct {
	Sender    channel.Sender
	Bus       *channel.Bus
	Scheduler scheduler.Scheduler
	Notifier  notify.Notifier
	Logger    *slog.Logger
	// IdleTimeout destroys a session that has waited this long for input.
	IdleTimeout time.Duration
	// Reserved reports events a session must leave to other listeners.
	Reserved func(channel.Event) bool
	// Apology is sent to the counterparty when a handler fails.
	Apology string
}

// Registry owns the live sessions, at most one per counterparty address.
// It is not safe for concurrent use; call it from the scheduler thread.
type Registry struct {
	cfg      Config
	sessions map[string]*Session
}

func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Sender == nil {
		return nil, errors.New("dialog: sender must not be nil")
	}
	if cfg.Bus == nil {
		return nil, errors.New("dialog: bus must not be nil")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("dialog: scheduler must not be nil")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	return &Registry{cfg: cfg, sessions: make(map[string]*Session)}, nil
}

type StartOption func(*Session)

// WithJobs grants the session's handlers the job-creation capability.
func WithJobs(j JobCreator) StartOption {
	return func(s *Session) { s.jobs = j }
}

// WithOnEnd registers a termination hook before the first render.
func WithOnEnd(fn func(*Session, EndReason)) StartOption {
	return func(s *Session) { s.onEnd = append(s.onEnd, fn) }
}

// Start replaces any live session for partner with a new one rooted at
// root and renders the first node. The returned session is non-nil even
// when the first render fails; it is then already terminated.
func (r *Registry) Start(ctx context.Context, partner domain.ChatPartner, root *Node, initial map[string]any, opts ...StartOption) (*Session, error) {
	if partner == nil || partner.Address() == "" {
		return nil, errors.New("dialog: partner address must not be empty")
	}
	if root == nil {
		return nil, errors.New("dialog: root node must not be nil")
	}

	addr := partner.Address()
	if old, ok := r.sessions[addr]; ok {
		old.Destroy(EndReplaced)
	}

	s := &Session{
		id:      newSessionID(),
		cfg:     &r.cfg,
		partner: partner,
		origin:  root,
		cur:     root,
		vars:    NewVars(initial),
	}
	s.onEnd = append(s.onEnd, func(ended *Session, _ EndReason) {
		if r.sessions[addr] == ended {
			delete(r.sessions, addr)
		}
	})
	for _, opt := range opts {
		opt(s)
	}
	r.sessions[addr] = s

	return s, s.render(ctx, root)
}

// Find returns the live session for address.
func (r *Registry) Find(address string) (*Session, bool) {
	s, ok := r.sessions[address]
	return s, ok
}

// Destroy terminates the live session for address, if any.
func (r *Registry) Destroy(address string, reason EndReason) bool {
	s, ok := r.sessions[address]
	if !ok {
		return false
	}
	s.Destroy(reason)
	return true
}

func (r *Registry) Len() int { return len(r.sessions) }
