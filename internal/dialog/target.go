package dialog

import (
	"context"
	"strings"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/domain"
)

type targetKind uint8

const (
	targetNone targetKind = iota
	targetGoto
	targetEnd
	targetCall
)

// Target is what a handler key resolves to.
type Target struct {
	kind targetKind
	node *Node
	fn   HandlerFunc
}

// Goto moves the session to n.
func Goto(n *Node) Target { return Target{kind: targetGoto, node: n} }

// Terminate ends the session without sending anything.
func Terminate() Target { return Target{kind: targetEnd} }

// Call runs fn and follows the Result it returns.
func Call(fn HandlerFunc) Target { return Target{kind: targetCall, fn: fn} }

func (t Target) valid() bool {
	switch t.kind {
	case targetGoto:
		return t.node != nil
	case targetEnd:
		return true
	case targetCall:
		return t.fn != nil
	}
	return false
}

// HandlerFunc reacts to one turn of the conversation.
type HandlerFunc func(ctx context.Context, t *Turn) (Result, error)

// JobCreator is the capability a booking flow uses to post a job.
type JobCreator interface {
	CreateJob(ctx context.Context, draft domain.JobDraft) (*domain.Job, error)
}

// Turn is the input to a handler.
type Turn struct {
	// Input is nil when an auto-continue node invokes its handler.
	Input   *channel.Event
	Vars    *Vars
	Partner domain.ChatPartner
	Jobs    JobCreator
	// Session is the conversation being driven.
	Session *Session
}

// Text returns the trimmed text of the input, if any.
func (t *Turn) Text() string {
	if t.Input == nil {
		return ""
	}
	return strings.TrimSpace(t.Input.Text)
}

// ChoiceID returns the id of the selected button or row, if any.
func (t *Turn) ChoiceID() string {
	if t.Input == nil || t.Input.Choice == nil {
		return ""
	}
	return t.Input.Choice.ID
}

// Result tells the session where to go after a Call handler.
type Result struct {
	end  bool
	next *Node
}

// Continue renders n next.
func Continue(n *Node) Result { return Result{next: n} }

// End finishes the conversation without sending anything further.
func End() Result { return Result{end: true} }
