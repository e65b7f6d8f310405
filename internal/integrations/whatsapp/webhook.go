package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"courier-dispatch/internal/channel"
)

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Context   *struct {
		ID string `json:"id"`
	} `json:"context"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
}

// ParseWebhook decodes a webhook delivery. Status updates and message
// types the service does not handle are skipped.
func ParseWebhook(body []byte) ([]channel.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	if p.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("whatsapp: unexpected webhook object %q", p.Object)
	}

	var events []channel.Event
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			for _, m := range ch.Value.Messages {
				if ev, ok := toEvent(m); ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events, nil
}

func toEvent(m inboundMessage) (channel.Event, bool) {
	ev := channel.Event{SenderID: m.From, MessageID: m.ID}
	if m.Context != nil {
		ev.ReplyToID = m.Context.ID
	}
	if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		ev.ReceivedAt = time.Unix(sec, 0).UTC()
	}

	switch m.Type {
	case "text":
		if m.Text == nil {
			return channel.Event{}, false
		}
		ev.Kind = channel.KindText
		ev.Text = m.Text.Body

	case "interactive":
		if m.Interactive == nil {
			return channel.Event{}, false
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			r := m.Interactive.ButtonReply
			ev.Choice = &channel.Choice{ID: r.ID, Label: r.Title}
		case m.Interactive.ListReply != nil:
			r := m.Interactive.ListReply
			ev.Choice = &channel.Choice{ID: r.ID, Label: r.Title, Description: r.Description}
		default:
			return channel.Event{}, false
		}
		ev.Kind = channel.KindInteractive

	case "location":
		if m.Location == nil {
			return channel.Event{}, false
		}
		l := m.Location
		ev.Kind = channel.KindLocation
		ev.Location = &channel.Location{Lat: l.Latitude, Lng: l.Longitude, Name: l.Name, Address: l.Address}

	default:
		return channel.Event{}, false
	}
	if ev.SenderID == "" {
		return channel.Event{}, false
	}
	return ev, true
}

// VerifyChallenge answers the subscription handshake. It returns the
// challenge to echo and whether the request carried the expected token.
func VerifyChallenge(q url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" || q.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return q.Get("hub.challenge"), true
}

// VerifySignature checks the X-Hub-Signature-256 header against the app
// secret.
func VerifySignature(body []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || appSecret == "" {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
