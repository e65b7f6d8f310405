package whatsapp

import (
	"fmt"
	"unicode/utf8"

	"courier-dispatch/internal/channel"
)

// Cloud API limits on interactive elements, in characters.
const (
	maxBodyLen        = 1024
	maxButtonTitle    = 20
	maxButtons        = 3
	maxListButton     = 20
	maxSectionTitle   = 24
	maxRowTitle       = 24
	maxRowDescription = 72
	maxRows           = 10
)

type outbound struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type interactive struct {
	Type   string  `json:"type"`
	Body   bodyRef `json:"body"`
	Action action  `json:"action"`
}

type bodyRef struct {
	Text string `json:"text"`
}

type action struct {
	Name     string          `json:"name,omitempty"`
	Button   string          `json:"button,omitempty"`
	Buttons  []replyButton   `json:"buttons,omitempty"`
	Sections []actionSection `json:"sections,omitempty"`
}

type replyButton struct {
	Type  string     `json:"type"`
	Reply replyTitle `json:"reply"`
}

type replyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type actionSection struct {
	Title string      `json:"title,omitempty"`
	Rows  []actionRow `json:"rows"`
}

type actionRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// encode builds the Cloud API message for content addressed to to.
func encode(to string, content channel.Content) (outbound, error) {
	msg := outbound{MessagingProduct: "whatsapp", RecipientType: "individual", To: to}

	switch c := content.(type) {
	case channel.PlainText:
		msg.Type = "text"
		msg.Text = &textBody{Body: c.Body, PreviewURL: true}

	case channel.ButtonChoice:
		if len(c.Buttons) == 0 || len(c.Buttons) > maxButtons {
			return outbound{}, fmt.Errorf("whatsapp: %d buttons, want 1 to %d", len(c.Buttons), maxButtons)
		}
		buttons := make([]replyButton, 0, len(c.Buttons))
		for _, b := range c.Buttons {
			buttons = append(buttons, replyButton{Type: "reply", Reply: replyTitle{ID: b.ID, Title: clip(b.Label, maxButtonTitle)}})
		}
		msg.Type = "interactive"
		msg.Interactive = &interactive{
			Type:   "button",
			Body:   bodyRef{Text: clip(c.Body, maxBodyLen)},
			Action: action{Buttons: buttons},
		}

	case channel.ListChoice:
		sections := make([]actionSection, 0, len(c.Sections))
		rows := 0
		for _, s := range c.Sections {
			out := actionSection{Title: clip(s.Title, maxSectionTitle)}
			for _, r := range s.Rows {
				out.Rows = append(out.Rows, actionRow{
					ID:          r.ID,
					Title:       clip(r.Label, maxRowTitle),
					Description: clip(r.Description, maxRowDescription),
				})
			}
			rows += len(out.Rows)
			sections = append(sections, out)
		}
		if rows == 0 || rows > maxRows {
			return outbound{}, fmt.Errorf("whatsapp: %d list rows, want 1 to %d", rows, maxRows)
		}
		if len(sections) == 1 {
			sections[0].Title = ""
		}
		msg.Type = "interactive"
		msg.Interactive = &interactive{
			Type:   "list",
			Body:   bodyRef{Text: clip(c.Body, maxBodyLen)},
			Action: action{Button: clip(c.ButtonLabel, maxListButton), Sections: sections},
		}

	case channel.LocationRequest:
		msg.Type = "interactive"
		msg.Interactive = &interactive{
			Type:   "location_request_message",
			Body:   bodyRef{Text: clip(c.Body, maxBodyLen)},
			Action: action{Name: "send_location"},
		}

	default:
		return outbound{}, fmt.Errorf("whatsapp: unsupported content %T", content)
	}
	return msg, nil
}

// clip shortens s to at most n characters, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
