package trees

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/scheduler"
)

type sentMessage struct {
	to      string
	content channel.Content
}

type fakeSender struct {
	sent []sentMessage
}

func (f *fakeSender) Send(_ context.Context, to string, c channel.Content) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, content: c})
	return fmt.Sprintf("wamid.%d", len(f.sent)), nil
}

func (f *fakeSender) last(t *testing.T) channel.Content {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1].content
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	pt, ok := f.last(t).(channel.PlainText)
	require.True(t, ok, "last message is %T", f.last(t))
	return pt.Body
}

type convo struct {
	reg    *dialog.Registry
	bus    *channel.Bus
	sender *fakeSender
	phone  string
}

func newConvo(t *testing.T, phone string) *convo {
	t.Helper()
	c := &convo{bus: channel.NewBus(), sender: &fakeSender{}, phone: phone}
	reg, err := dialog.NewRegistry(dialog.Config{
		Sender:    c.sender,
		Bus:       c.bus,
		Scheduler: scheduler.NewManual(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	c.reg = reg
	return c
}

func (c *convo) start(t *testing.T, partner domain.ChatPartner, root *dialog.Node, vars map[string]any, opts ...dialog.StartOption) *dialog.Session {
	t.Helper()
	s, err := c.reg.Start(context.Background(), partner, root, vars, opts...)
	require.NoError(t, err)
	return s
}

func (c *convo) send(t *testing.T, ev channel.Event) {
	t.Helper()
	ev.SenderID = c.phone
	require.True(t, c.bus.Publish(context.Background(), channel.EventMessageReceived, ev), "reply was not consumed")
}

func (c *convo) text(t *testing.T, body string) {
	t.Helper()
	c.send(t, channel.Event{Kind: channel.KindText, Text: body})
}

func (c *convo) choose(t *testing.T, id string) {
	t.Helper()
	c.send(t, channel.Event{Kind: channel.KindInteractive, Choice: &channel.Choice{ID: id}})
}

func (c *convo) share(t *testing.T, lat, lng float64, address string) {
	t.Helper()
	c.send(t, channel.Event{Kind: channel.KindLocation, Location: &channel.Location{Lat: lat, Lng: lng, Address: address}})
}
