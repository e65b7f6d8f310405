package channel

import "time"

// EventMessageReceived is the bus topic for inbound counterparty messages.
const EventMessageReceived = "message-received"

type EventKind string

const (
	KindText        EventKind = "text"
	KindInteractive EventKind = "interactive"
	KindLocation    EventKind = "location"
)

// Choice is the button or list row a counterparty selected.
type Choice struct {
	ID          string
	Label       string
	Description string
}

type Location struct {
	Lat     float64
	Lng     float64
	Name    string
	Address string
}

// Event is one inbound message from a counterparty.
type Event struct {
	SenderID   string
	MessageID  string
	ReplyToID  string
	Kind       EventKind
	Text       string
	Choice     *Choice
	Location   *Location
	ReceivedAt time.Time
}

// Answers reports whether the event is a reply of the right kind for content of shape s.
func (e Event) Answers(s Shape) bool {
	switch e.Kind {
	case KindText:
		return s == ShapeText
	case KindInteractive:
		return e.Choice != nil && (s == ShapeButtons || s == ShapeList)
	case KindLocation:
		return e.Location != nil && s == ShapeLocation
	default:
		return false
	}
}
