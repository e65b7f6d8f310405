package usecase

import (
	"net/url"
	"strings"

	"courier-dispatch/internal/channel"
)

// Keywords are the text commands the router acts on regardless of any
// conversation in progress. Matching ignores case and surrounding space.
type Keywords struct {
	// Cancel ends the conversation in progress.
	Cancel string
	// Restart ends the conversation in progress and starts a new booking.
	Restart string
	// Interest is followed by a job id: "<Interest> <id>".
	Interest string
	// CancelJob is followed by a job id the requester wants cancelled.
	CancelJob string
	// Console opens the operator console. Only operators may use it.
	Console string
}

func DefaultKeywords() Keywords {
	return Keywords{
		Cancel:    "cancel",
		Restart:   "delivery",
		Interest:  "interested in job",
		CancelJob: "cancel job",
		Console:   "console",
	}
}

type command int

const (
	cmdNone command = iota
	cmdCancel
	cmdRestart
	cmdInterest
	cmdCancelJob
	cmdConsole
)

// match classifies text. For commands that take an argument it also
// returns the normalised job id.
func (k Keywords) match(text string) (command, string) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return cmdNone, ""
	}
	if id, ok := argument(text, k.CancelJob); ok {
		return cmdCancelJob, id
	}
	if id, ok := argument(text, k.Interest); ok {
		return cmdInterest, id
	}
	switch {
	case k.Cancel != "" && strings.EqualFold(text, k.Cancel):
		return cmdCancel, ""
	case k.Restart != "" && strings.EqualFold(text, k.Restart):
		return cmdRestart, ""
	case k.Console != "" && strings.EqualFold(text, k.Console):
		return cmdConsole, ""
	}
	return cmdNone, ""
}

func argument(text, keyword string) (string, bool) {
	if keyword == "" || len(text) < len(keyword) {
		return "", false
	}
	if len(text) == len(keyword) {
		return "", strings.EqualFold(text, keyword)
	}
	if !strings.EqualFold(text[:len(keyword)], keyword) || text[len(keyword)] != ' ' {
		return "", false
	}
	return strings.ToUpper(strings.TrimSpace(text[len(keyword):])), true
}

// InterestLink returns a click-to-chat link that pre-fills the interest
// command for jobID. It returns "" when businessPhone is empty.
func (k Keywords) InterestLink(businessPhone, jobID string) string {
	if businessPhone == "" {
		return ""
	}
	return "https://wa.me/" + strings.TrimPrefix(businessPhone, "+") +
		"?text=" + strings.ReplaceAll(url.QueryEscape(k.Interest+" "+jobID), "+", "%20")
}

func textOf(ev channel.Event) string {
	if ev.Kind != channel.KindText {
		return ""
	}
	return ev.Text
}
