package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/scheduler"
	"courier-dispatch/internal/trees"
)

const (
	operatorPhone  = "972500000900"
	fulfillerPhone = "972500000001"
	requesterPhone = "972500000100"
)

type sentMessage struct {
	to   string
	text string
}

type fakeSender struct {
	sent []sentMessage
}

func (f *fakeSender) Send(_ context.Context, to string, c channel.Content) (string, error) {
	body := ""
	switch c := c.(type) {
	case channel.PlainText:
		body = c.Body
	case channel.ButtonChoice:
		body = c.Body
	}
	f.sent = append(f.sent, sentMessage{to: to, text: body})
	return fmt.Sprintf("wamid.%d", len(f.sent)), nil
}

func (f *fakeSender) lastTo(t *testing.T, to string) string {
	t.Helper()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].to == to {
			return f.sent[i].text
		}
	}
	t.Fatalf("nothing sent to %s", to)
	return ""
}

type fakeDirectory struct {
	fulfillers map[string]domain.Fulfiller
	requesters map[string]domain.Requester
	err        error
	created    []string
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		fulfillers: map[string]domain.Fulfiller{},
		requesters: map[string]domain.Requester{},
	}
}

func (d *fakeDirectory) GetFulfiller(_ context.Context, phone string) (domain.Fulfiller, bool, error) {
	f, ok := d.fulfillers[phone]
	return f, ok, d.err
}

func (d *fakeDirectory) CreateFulfiller(_ context.Context, phone string) (domain.Fulfiller, error) {
	f := domain.Fulfiller{RecordID: "f-" + phone, Phone: phone}
	d.fulfillers[phone] = f
	d.created = append(d.created, "fulfiller:"+phone)
	return f, nil
}

func (d *fakeDirectory) GetRequester(_ context.Context, phone string) (domain.Requester, bool, error) {
	r, ok := d.requesters[phone]
	return r, ok, d.err
}

func (d *fakeDirectory) CreateRequester(_ context.Context, phone string) (domain.Requester, error) {
	r := domain.Requester{RecordID: "r-" + phone, Phone: phone}
	d.requesters[phone] = r
	d.created = append(d.created, "requester:"+phone)
	return r, nil
}

type interestCall struct {
	jobID     string
	fulfiller domain.Fulfiller
}

type fakeJobs struct {
	interestErr error
	cancelErr   error
	active      map[string][]domain.Job
	interests   []interestCall
	cancels     []string
}

func (j *fakeJobs) CreateJob(context.Context, domain.JobDraft) (*domain.Job, error) {
	return &domain.Job{ID: "AB12CD34"}, nil
}

func (j *fakeJobs) Interest(_ context.Context, jobID string, f domain.Fulfiller) error {
	j.interests = append(j.interests, interestCall{jobID: jobID, fulfiller: f})
	return j.interestErr
}

func (j *fakeJobs) Cancel(_ context.Context, jobID, phone string) error {
	j.cancels = append(j.cancels, jobID+"/"+phone)
	return j.cancelErr
}

func (j *fakeJobs) ActiveJobsFor(phone string) []domain.Job { return j.active[phone] }

type recordedNotice struct {
	sev notify.Severity
	msg string
}

type harness struct {
	router    *Router
	registry  *dialog.Registry
	sender    *fakeSender
	directory *fakeDirectory
	jobs      *fakeJobs
	notices   []recordedNotice
	flows     Flows
}

func prompt(name string) *dialog.Node {
	return &dialog.Node{
		Name:    name,
		Kind:    dialog.OpenText,
		Content: dialog.Content{Body: dialog.Static(name + "?")},
		Handlers: map[string]dialog.Target{dialog.AnswerKey: dialog.Call(func(context.Context, *dialog.Turn) (dialog.Result, error) {
			return dialog.End(), nil
		})},
	}
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		sender:    &fakeSender{},
		directory: newDirectory(),
		jobs:      &fakeJobs{active: map[string][]domain.Job{}},
		flows: Flows{
			Booking:       prompt("booking"),
			FulfillerJobs: prompt("jobs"),
			Operator:      prompt("console"),
		},
	}
	h.directory.fulfillers[fulfillerPhone] = domain.Fulfiller{RecordID: "f-1", Phone: fulfillerPhone, Name: "Avi"}

	reg, err := dialog.NewRegistry(dialog.Config{
		Sender:    h.sender,
		Bus:       channel.NewBus(),
		Scheduler: scheduler.NewManual(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	h.registry = reg

	cfg := Config{
		Sessions:  reg,
		Jobs:      h.jobs,
		Directory: h.directory,
		Sender:    h.sender,
		Notifier: notify.NotifierFunc(func(_ context.Context, sev notify.Severity, msg string) {
			h.notices = append(h.notices, recordedNotice{sev: sev, msg: msg})
		}),
		Flows:     h.flows,
		Operators: []string{operatorPhone},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.router, err = NewRouter(cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) text(from, body string) bool {
	return h.router.Listen(context.Background(), channel.Event{SenderID: from, Kind: channel.KindText, Text: body})
}

func (h *harness) current(t *testing.T, phone string) string {
	t.Helper()
	s, ok := h.registry.Find(phone)
	require.True(t, ok, "no conversation with %s", phone)
	return s.Current().Name
}

func TestNewRouter_ValidatesDependencies(t *testing.T) {
	_, err := NewRouter(Config{})
	require.Error(t, err)
}

func TestNewRequesterStartsBooking(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.text(requesterPhone, "hello"))

	require.Equal(t, []string{"requester:" + requesterPhone}, h.directory.created)
	require.Equal(t, "booking", h.current(t, requesterPhone))
	s, _ := h.registry.Find(requesterPhone)
	req, ok := dialog.Lookup[domain.Requester](s.Vars(), trees.VarRequester)
	require.True(t, ok)
	require.Equal(t, requesterPhone, req.Phone)
	require.Equal(t, []recordedNotice{{sev: notify.SeverityInfo, msg: "Started a booking with +" + requesterPhone + "."}}, h.notices)
}

func TestKnownRequesterIsNotRecreated(t *testing.T) {
	h := newHarness(t)
	h.directory.requesters[requesterPhone] = domain.Requester{RecordID: "r-1", Phone: requesterPhone, Returning: true}

	h.text(requesterPhone, "hi")

	require.Empty(t, h.directory.created)
	s, _ := h.registry.Find(requesterPhone)
	req, _ := dialog.Lookup[domain.Requester](s.Vars(), trees.VarRequester)
	require.True(t, req.Returning)
}

func TestFulfillerWithoutJobsGetsIdleNotice(t *testing.T) {
	h := newHarness(t)

	h.text(fulfillerPhone, "hi")

	_, live := h.registry.Find(fulfillerPhone)
	require.False(t, live)
	require.Contains(t, h.sender.lastTo(t, fulfillerPhone), "Hi Avi, you have no active jobs right now.")
}

func TestFulfillerWithJobsManagesThem(t *testing.T) {
	h := newHarness(t)
	h.jobs.active[fulfillerPhone] = []domain.Job{{ID: "AB12CD34", Status: domain.StatusAssigned}}

	h.text(fulfillerPhone, "hi")

	require.Equal(t, "jobs", h.current(t, fulfillerPhone))
	s, _ := h.registry.Find(fulfillerPhone)
	f, ok := dialog.Lookup[domain.Fulfiller](s.Vars(), trees.VarFulfiller)
	require.True(t, ok)
	require.Equal(t, "Avi", f.Name)
}

func TestFulfillerRestartBooksAsRequester(t *testing.T) {
	h := newHarness(t)

	h.text(fulfillerPhone, "Delivery")

	require.Equal(t, "booking", h.current(t, fulfillerPhone))
	require.Contains(t, h.notices[0].msg, "Restarted a booking")
}

func TestOperatorGetsConsole(t *testing.T) {
	h := newHarness(t)

	h.text(operatorPhone, "hi")
	require.Equal(t, "console", h.current(t, operatorPhone))
}

func TestConsoleKeywordReplacesConversation(t *testing.T) {
	h := newHarness(t)
	h.text(operatorPhone, "delivery")
	require.Equal(t, "booking", h.current(t, operatorPhone))

	h.text(operatorPhone, "console")
	require.Equal(t, "console", h.current(t, operatorPhone))
}

func TestConsoleKeywordIgnoredForOthers(t *testing.T) {
	h := newHarness(t)

	h.text(requesterPhone, "console")
	require.Equal(t, "booking", h.current(t, requesterPhone))
}

func TestClosedModeTurnsRequestersAway(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Closed = true
		c.ClosedNotice = "closed for repairs"
	})

	h.text(requesterPhone, "hi")
	_, live := h.registry.Find(requesterPhone)
	require.False(t, live)
	require.Equal(t, "closed for repairs", h.sender.lastTo(t, requesterPhone))

	h.jobs.active[fulfillerPhone] = []domain.Job{{ID: "AB12CD34"}}
	h.text(fulfillerPhone, "hi")
	require.Equal(t, "jobs", h.current(t, fulfillerPhone))
}

func TestCancelKeyword(t *testing.T) {
	h := newHarness(t)
	h.text(requesterPhone, "hi")
	s, _ := h.registry.Find(requesterPhone)

	require.True(t, h.text(requesterPhone, "  CANCEL "))

	require.True(t, s.Terminated())
	require.Equal(t, dialog.EndCancelled, s.EndReason())
	require.Contains(t, h.sender.lastTo(t, requesterPhone), "Stopped.")

	sent := len(h.sender.sent)
	h.text(requesterPhone, "cancel")
	require.Len(t, h.sender.sent, sent)
}

func TestUnconsumedReplyDuringConversation(t *testing.T) {
	h := newHarness(t)
	h.text(requesterPhone, "hi")

	consumed := h.router.Listen(context.Background(), channel.Event{
		SenderID: requesterPhone,
		Kind:     channel.KindInteractive,
		Choice:   &channel.Choice{ID: "stale"},
	})
	require.False(t, consumed)
	require.Equal(t, "booking", h.current(t, requesterPhone))
}

func TestInterest(t *testing.T) {
	h := newHarness(t)
	h.text(requesterPhone, "hi")

	require.True(t, h.text(requesterPhone, "Interested in job ab12cd34"))

	require.Equal(t, "booking", h.current(t, requesterPhone))
	require.Equal(t, []string{"requester:" + requesterPhone, "fulfiller:" + requesterPhone}, h.directory.created)
	require.Len(t, h.jobs.interests, 1)
	require.Equal(t, "AB12CD34", h.jobs.interests[0].jobID)
	require.Equal(t, requesterPhone, h.jobs.interests[0].fulfiller.Phone)
}

func TestInterestFailures(t *testing.T) {
	cases := []struct {
		name string
		text string
		err  error
		want string
	}{
		{name: "missing id", text: "interested in job ", want: "Please include the job number"},
		{name: "unknown job", text: "interested in job X1", err: dispatch.ErrJobNotFound, want: "No job found with number X1."},
		{name: "sold", text: "interested in job X1", err: dispatch.ErrJobClosed, want: "Sorry, job X1 was already taken."},
		{name: "queued", text: "interested in job X1", err: dispatch.ErrAlreadyQueued, want: "You're already in line for job X1."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.jobs.interestErr = tc.err

			h.text(fulfillerPhone, tc.text)
			require.Contains(t, h.sender.lastTo(t, fulfillerPhone), tc.want)
			require.Empty(t, h.notices)
		})
	}
}

func TestRejectedInterestKeepsConversation(t *testing.T) {
	h := newHarness(t)
	h.jobs.interestErr = dispatch.ErrJobClosed
	h.text(requesterPhone, "hi")

	h.text(requesterPhone, "interested in job X1")

	require.Contains(t, h.sender.lastTo(t, requesterPhone), "already taken")
	require.Equal(t, "booking", h.current(t, requesterPhone))
}

func TestCancelJob(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "cancelled", want: "Job AB12CD34 is cancelled."},
		{name: "unknown", err: dispatch.ErrJobNotFound, want: "No job found with number AB12CD34."},
		{name: "someone else's", err: dispatch.ErrNotOwner, want: "No job found with number AB12CD34."},
		{name: "underway", err: dispatch.ErrInvalidTransition, want: "already on its way"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.jobs.cancelErr = tc.err

			h.text(requesterPhone, "cancel job ab12cd34")
			require.Equal(t, []string{"AB12CD34/" + requesterPhone}, h.jobs.cancels)
			require.Contains(t, h.sender.lastTo(t, requesterPhone), tc.want)
		})
	}
}

func TestDirectoryFailureApologises(t *testing.T) {
	h := newHarness(t)
	h.directory.err = errors.New("throttled")

	require.True(t, h.text(requesterPhone, "hi"))

	require.Equal(t, dialog.DefaultApology, h.sender.lastTo(t, requesterPhone))
	require.Len(t, h.notices, 1)
	require.Equal(t, notify.SeverityError, h.notices[0].sev)
	require.Contains(t, h.notices[0].msg, "throttled")
}

func TestReserved(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		from string
		ev   channel.Event
		want bool
	}{
		{from: requesterPhone, ev: channel.Event{Kind: channel.KindText, Text: "cancel"}, want: true},
		{from: requesterPhone, ev: channel.Event{Kind: channel.KindText, Text: "Delivery"}, want: true},
		{from: requesterPhone, ev: channel.Event{Kind: channel.KindText, Text: "interested in job A1"}, want: true},
		{from: requesterPhone, ev: channel.Event{Kind: channel.KindText, Text: "cancel job A1"}, want: true},
		{from: requesterPhone, ev: channel.Event{Kind: channel.KindText, Text: "console"}, want: false},
		{from: operatorPhone, ev: channel.Event{Kind: channel.KindText, Text: "console"}, want: true},
		{from: requesterPhone, ev: channel.Event{Kind: channel.KindText, Text: "please cancel the last bit"}, want: false},
		{from: requesterPhone, ev: channel.Event{Kind: channel.KindInteractive, Choice: &channel.Choice{ID: "cancel"}}, want: false},
	}
	for _, tc := range cases {
		tc.ev.SenderID = tc.from
		require.Equal(t, tc.want, h.router.Reserved(tc.ev), "%s: %+v", tc.from, tc.ev)
	}
}
