package dispatch

import (
	"context"

	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/pricing"
)

// Store persists job state. The dispatcher's in-memory state is
// authoritative; write failures are reported to operators, not retried.
type Store interface {
	SaveJob(ctx context.Context, job domain.Job) error
	UpdateFulfillerPrice(ctx context.Context, jobID string, price int) error
	// AssignJob must only succeed while the stored job is still open.
	AssignJob(ctx context.Context, jobID string, f domain.Fulfiller) error
	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error
	ArchiveJob(ctx context.Context, job domain.Job) error
}

type Pricer interface {
	Quote(pickup, dropoff domain.Location, size domain.PackageSize, speed domain.SpeedCategory, returning bool) (pricing.Quote, error)
}

// Ad is one published advertisement.
type Ad struct {
	Channel string
	// Recipient is set for ads delivered to a single fulfiller.
	Recipient string
	// Ref identifies the published message for withdrawal.
	Ref string
}

type Advertiser interface {
	Advertise(ctx context.Context, job domain.Job, text string) ([]Ad, error)
	// Withdraw retracts ads where the channel supports it. Ads from other
	// channels are ignored.
	Withdraw(ctx context.Context, ads []Ad) error
}

// Sessions starts conversations.
type Sessions interface {
	Start(ctx context.Context, partner domain.ChatPartner, root *dialog.Node, initial map[string]any, opts ...dialog.StartOption) (*dialog.Session, error)
}

// NegotiationClient is what a negotiation conversation may do with the
// job it offers.
type NegotiationClient interface {
	Job() domain.Job
	Fulfiller() domain.Fulfiller
	Accept(ctx context.Context) error
	Decline(ctx context.Context) error
}

// NegotiationFlow builds the conversation offered to the queue head.
type NegotiationFlow func(c NegotiationClient) *dialog.Node

// Session bindings set on every negotiation conversation.
const (
	VarJob       = "job"
	VarFulfiller = "fulfiller"
)
