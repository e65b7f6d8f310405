package dialog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/scheduler"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type sentMessage struct {
	ID      string
	To      string
	Content channel.Content
}

type fakeSender struct {
	sent []sentMessage
	fail bool
}

func (f *fakeSender) Send(_ context.Context, to string, c channel.Content) (string, error) {
	if f.fail {
		return "", fmt.Errorf("fake: %w", channel.ErrSendFailed)
	}
	id := fmt.Sprintf("wamid.%d", len(f.sent)+1)
	f.sent = append(f.sent, sentMessage{ID: id, To: to, Content: c})
	return id, nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type notification struct {
	sev notify.Severity
	msg string
}

type recordingNotifier struct {
	got []notification
}

func (r *recordingNotifier) Notify(_ context.Context, sev notify.Severity, msg string) {
	r.got = append(r.got, notification{sev: sev, msg: msg})
}

type harness struct {
	reg      *Registry
	sender   *fakeSender
	bus      *channel.Bus
	clock    *scheduler.Manual
	notifier *recordingNotifier
	// unconsumed records events no session consumed.
	unconsumed []channel.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sender:   &fakeSender{},
		bus:      channel.NewBus(),
		clock:    scheduler.NewManual(epoch),
		notifier: &recordingNotifier{},
	}
	reg, err := NewRegistry(Config{
		Sender:    h.sender,
		Bus:       h.bus,
		Scheduler: h.clock,
		Notifier:  h.notifier,
		Reserved: func(ev channel.Event) bool {
			return ev.Kind == channel.KindText && ev.Text == "cancel"
		},
		Apology: "sorry",
	})
	require.NoError(t, err)
	h.reg = reg
	h.bus.Subscribe(channel.EventMessageReceived, func(_ context.Context, ev channel.Event) bool {
		h.unconsumed = append(h.unconsumed, ev)
		return true
	}, channel.SubscribeOptions{})
	return h
}

var alice = domain.Requester{RecordID: "r-1", Phone: "972500000001"}

func (h *harness) start(t *testing.T, root *Node) *Session {
	t.Helper()
	s, err := h.reg.Start(context.Background(), alice, root, nil)
	require.NoError(t, err)
	return s
}

func (h *harness) publish(ev channel.Event) {
	ev.SenderID = alice.Phone
	h.bus.Publish(context.Background(), channel.EventMessageReceived, ev)
}

func (h *harness) text(body string) {
	h.publish(channel.Event{Kind: channel.KindText, Text: body})
}

func (h *harness) choose(id, replyTo string) {
	h.publish(channel.Event{Kind: channel.KindInteractive, Choice: &channel.Choice{ID: id}, ReplyToID: replyTo})
}

// sessionListeners counts subscriptions besides the harness's global one.
func (h *harness) sessionListeners() int {
	return h.bus.Len(channel.EventMessageReceived) - 1
}

func openText(name, body string, handlers map[string]Target) *Node {
	return &Node{Name: name, Kind: OpenText, Content: Content{Body: Static(body)}, Handlers: handlers}
}

var errBoom = errors.New("boom")
