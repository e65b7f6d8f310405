package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/pricing"
	"courier-dispatch/internal/scheduler"
)

var epoch = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

var (
	requester = domain.Requester{RecordID: "r-1", Phone: "972500000100"}
	courierA  = domain.Fulfiller{RecordID: "f-a", Phone: "972500000001", Name: "Avi"}
	courierB  = domain.Fulfiller{RecordID: "f-b", Phone: "972500000002", Name: "Bella"}
	courierC  = domain.Fulfiller{RecordID: "f-c", Phone: "972500000003"}
)

type sentMessage struct {
	to      string
	content channel.Content
}

type fakeSender struct {
	sent   []sentMessage
	downTo map[string]bool
}

func (f *fakeSender) Send(_ context.Context, to string, c channel.Content) (string, error) {
	if f.downTo[to] {
		return "", fmt.Errorf("send to %s: %w", to, channel.ErrSendFailed)
	}
	f.sent = append(f.sent, sentMessage{to: to, content: c})
	return fmt.Sprintf("wamid.%d", len(f.sent)), nil
}

// texts returns the plain-text bodies sent to phone.
func (f *fakeSender) texts(phone string) []string {
	var out []string
	for _, m := range f.sent {
		if pt, ok := m.content.(channel.PlainText); ok && m.to == phone {
			out = append(out, pt.Body)
		}
	}
	return out
}

func (f *fakeSender) last(phone string) channel.Content {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].to == phone {
			return f.sent[i].content
		}
	}
	return nil
}

type fakeStore struct {
	saved     []domain.Job
	prices    []int
	assigned  []string
	statuses  []domain.JobStatus
	archived  []domain.Job
	assignErr error
}

func (s *fakeStore) SaveJob(_ context.Context, j domain.Job) error {
	s.saved = append(s.saved, j)
	return nil
}

func (s *fakeStore) UpdateFulfillerPrice(_ context.Context, _ string, price int) error {
	s.prices = append(s.prices, price)
	return nil
}

func (s *fakeStore) AssignJob(_ context.Context, _ string, f domain.Fulfiller) error {
	if s.assignErr != nil {
		return s.assignErr
	}
	s.assigned = append(s.assigned, f.Phone)
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, _ string, status domain.JobStatus) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) ArchiveJob(_ context.Context, j domain.Job) error {
	s.archived = append(s.archived, j)
	return nil
}

type fakePricer struct {
	quote pricing.Quote
	calls int
}

func (p *fakePricer) Quote(domain.Location, domain.Location, domain.PackageSize, domain.SpeedCategory, bool) (pricing.Quote, error) {
	p.calls++
	return p.quote, nil
}

type fakeAdvertiser struct {
	pool      []string
	texts     []string
	withdrawn []Ad
}

func (a *fakeAdvertiser) Advertise(_ context.Context, _ domain.Job, text string) ([]Ad, error) {
	a.texts = append(a.texts, text)
	ads := []Ad{{Channel: "board", Ref: fmt.Sprintf("ts-%d", len(a.texts))}}
	for _, phone := range a.pool {
		ads = append(ads, Ad{Channel: ChannelDirect, Recipient: phone})
	}
	return ads, nil
}

func (a *fakeAdvertiser) Withdraw(_ context.Context, ads []Ad) error {
	a.withdrawn = append(a.withdrawn, ads...)
	return nil
}

type recordingNotifier struct {
	got []string
	sev []notify.Severity
}

func (r *recordingNotifier) Notify(_ context.Context, sev notify.Severity, msg string) {
	r.got = append(r.got, msg)
	r.sev = append(r.sev, sev)
}

type fixture struct {
	d        *Dispatcher
	clock    *scheduler.Manual
	bus      *channel.Bus
	reg      *dialog.Registry
	sender   *fakeSender
	store    *fakeStore
	pricer   *fakePricer
	ads      *fakeAdvertiser
	notifier *recordingNotifier
	clients  map[string]NegotiationClient
	outcomes map[string]error
}

// offerFlow is a minimal negotiation conversation: accept or decline.
func (fx *fixture) offerFlow(c NegotiationClient) *dialog.Node {
	fx.clients[c.Fulfiller().Phone] = c
	return &dialog.Node{
		Name: "offer",
		Kind: dialog.ButtonChoice,
		Content: dialog.Content{
			Body: dialog.Static("Take job " + c.Job().ID + "?"),
			Buttons: []dialog.ButtonSpec{
				{ID: "accept", Label: dialog.Static("Take it")},
				{ID: "decline", Label: dialog.Static("Pass")},
			},
		},
		Handlers: map[string]dialog.Target{
			"accept": dialog.Call(func(ctx context.Context, _ *dialog.Turn) (dialog.Result, error) {
				fx.outcomes[c.Fulfiller().Phone] = c.Accept(ctx)
				return dialog.End(), nil
			}),
			"decline": dialog.Call(func(ctx context.Context, _ *dialog.Turn) (dialog.Result, error) {
				fx.outcomes[c.Fulfiller().Phone] = c.Decline(ctx)
				return dialog.End(), nil
			}),
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		clock:    scheduler.NewManual(epoch),
		bus:      channel.NewBus(),
		sender:   &fakeSender{},
		store:    &fakeStore{},
		pricer:   &fakePricer{quote: pricing.Quote{Requester: 150, Fulfiller: 100}},
		ads:      &fakeAdvertiser{},
		notifier: &recordingNotifier{},
		clients:  map[string]NegotiationClient{},
		outcomes: map[string]error{},
	}
	reg, err := dialog.NewRegistry(dialog.Config{Sender: fx.sender, Bus: fx.bus, Scheduler: fx.clock})
	require.NoError(t, err)
	fx.reg = reg

	d, err := New(Config{
		Store:        fx.store,
		Pricer:       fx.pricer,
		Advertiser:   fx.ads,
		Sender:       fx.sender,
		Sessions:     reg,
		Scheduler:    fx.clock,
		Notifier:     fx.notifier,
		Negotiation:  fx.offerFlow,
		InterestLink: func(id string) string { return "https://wa.me/1?text=interested+" + id },
	})
	require.NoError(t, err)
	fx.d = d
	return fx
}

func (fx *fixture) createJob(t *testing.T, priceForRequester, priceForFulfiller int) domain.Job {
	t.Helper()
	job, err := fx.d.CreateJob(context.Background(), domain.JobDraft{
		Requester:         requester,
		Size:              domain.PackageSmall,
		Speed:             domain.SpeedToday,
		Pickup:            domain.Location{Address: "Herzl 1", City: "Tel Aviv"},
		Dropoff:           domain.Location{Address: "Jaffa 5", City: "Jerusalem"},
		PriceForRequester: priceForRequester,
		PriceForFulfiller: priceForFulfiller,
	})
	require.NoError(t, err)
	return *job
}

func (fx *fixture) interest(t *testing.T, jobID string, f domain.Fulfiller) {
	t.Helper()
	require.NoError(t, fx.d.Interest(context.Background(), jobID, f))
}

// press simulates f tapping a button in their open conversation.
func (fx *fixture) press(f domain.Fulfiller, id string) bool {
	return fx.bus.Publish(context.Background(), channel.EventMessageReceived, channel.Event{
		SenderID: f.Phone,
		Kind:     channel.KindInteractive,
		Choice:   &channel.Choice{ID: id},
	})
}

func (fx *fixture) job(t *testing.T, id string) domain.Job {
	t.Helper()
	j, ok := fx.d.Job(id)
	require.True(t, ok)
	return j
}

var errStore = errors.New("store down")
