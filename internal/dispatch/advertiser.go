package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/domain"
)

// ChannelDirect names ads sent as direct messages to fulfillers.
const ChannelDirect = "direct"

// FulfillerLister lists the fulfiller pool.
type FulfillerLister interface {
	ListFulfillers(ctx context.Context) ([]domain.Fulfiller, error)
}

// PoolAdvertiser messages every fulfiller in the pool.
type PoolAdvertiser struct {
	pool   FulfillerLister
	sender channel.Sender
	logger *slog.Logger
}

func NewPoolAdvertiser(pool FulfillerLister, sender channel.Sender, logger *slog.Logger) (*PoolAdvertiser, error) {
	if pool == nil {
		return nil, errors.New("dispatch: fulfiller pool must not be nil")
	}
	if sender == nil {
		return nil, errors.New("dispatch: sender must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolAdvertiser{pool: pool, sender: sender, logger: logger}, nil
}

func (p *PoolAdvertiser) Advertise(ctx context.Context, job domain.Job, text string) ([]Ad, error) {
	fulfillers, err := p.pool.ListFulfillers(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list fulfillers: %w", err)
	}
	var (
		ads  []Ad
		errs []error
	)
	for _, f := range fulfillers {
		id, err := p.sender.Send(ctx, f.Phone, channel.Text(text))
		if err != nil {
			p.logger.Warn("failed to advertise job", "job_id", job.ID, "fulfiller", f.Phone, "err", err)
			errs = append(errs, err)
			continue
		}
		ads = append(ads, Ad{Channel: ChannelDirect, Recipient: f.Phone, Ref: id})
	}
	return ads, errors.Join(errs...)
}

// Withdraw is a no-op: direct messages cannot be retracted.
func (p *PoolAdvertiser) Withdraw(context.Context, []Ad) error { return nil }

type multiAdvertiser []Advertiser

// Advertisers publishes through every advertiser in turn.
func Advertisers(as ...Advertiser) Advertiser {
	var m multiAdvertiser
	for _, a := range as {
		if a != nil {
			m = append(m, a)
		}
	}
	return m
}

func (m multiAdvertiser) Advertise(ctx context.Context, job domain.Job, text string) ([]Ad, error) {
	var (
		ads  []Ad
		errs []error
	)
	for _, a := range m {
		got, err := a.Advertise(ctx, job, text)
		ads = append(ads, got...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return ads, errors.Join(errs...)
}

func (m multiAdvertiser) Withdraw(ctx context.Context, ads []Ad) error {
	var errs []error
	for _, a := range m {
		if err := a.Withdraw(ctx, ads); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
