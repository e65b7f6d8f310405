// Package trees holds the conversation graphs the service runs: requester
// booking, fulfiller negotiation, fulfiller job management and the
// operator console.
package trees

import (
	"context"
	"strings"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/domain"
)

// Binding keys shared with the router that starts these conversations.
const (
	VarRequester = "requester"
	VarFulfiller = "fulfiller"
)

const (
	varSize           = "size"
	varPickup         = "pickup"
	varPickupContact  = "pickup_contact"
	varDropoff        = "dropoff"
	varDropoffContact = "dropoff_contact"
	varSpeed          = "speed"
	varNotes          = "notes"
	varEditing        = "editing"
	varJobID          = "job_id"
	varSelectedJob    = "selected_job"
	varNote           = "note"
	varReport         = "report"
)

func finish(context.Context, *dialog.Turn) (dialog.Result, error) {
	return dialog.End(), nil
}

// notice sends text and ends the conversation.
func notice(name string, text dialog.Text) *dialog.Node {
	return &dialog.Node{
		Name:         name,
		Kind:         dialog.OpenText,
		Content:      dialog.Content{Body: text},
		AutoContinue: true,
		Handlers:     map[string]dialog.Target{dialog.AnswerKey: dialog.Call(finish)},
	}
}

func fromVar(key string) dialog.Text {
	return func(v *dialog.Vars) string { return v.String(key) }
}

func location(ev *channel.Event) (domain.Location, bool) {
	if ev == nil || ev.Location == nil {
		return domain.Location{}, false
	}
	l := ev.Location
	address := l.Address
	if address == "" {
		address = l.Name
	}
	return domain.Location{Lat: l.Lat, Lng: l.Lng, Address: address, City: cityOf(address)}, true
}

// cityOf takes the last comma-separated part of a street address that is
// not a postcode or country.
func cityOf(address string) string {
	parts := strings.Split(address, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		p := strings.TrimSpace(parts[i])
		if p == "" || strings.EqualFold(p, "israel") || strings.IndexFunc(p, isDigit) == 0 {
			continue
		}
		if i == 0 && len(parts) > 1 {
			break
		}
		return strings.TrimRight(p, " 0123456789")
	}
	return ""
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// Validate checks every graph the service can start.
func Validate(roots ...*dialog.Node) error {
	for _, root := range roots {
		if err := dialog.ValidateGraph(root); err != nil {
			return err
		}
	}
	return nil
}
