package trees

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/domain"
)

type BookingDeps struct {
	Pricer dispatch.Pricer
	// CancelKeyword is quoted in the confirmation so requesters know how
	// to cancel a posted job.
	CancelKeyword string
}

type booking struct {
	deps BookingDeps

	size, pickup, pickupContact, dropoff, dropoffContact *dialog.Node
	speed, notes, summary, edit                          *dialog.Node
}

// Booking returns the requester flow that collects a job and posts it.
// Sessions must be started with VarRequester bound and the job-creation
// capability granted.
func Booking(deps BookingDeps) *dialog.Node {
	b := &booking{deps: deps}
	posted := notice("booking_posted", func(v *dialog.Vars) string {
		id := v.String(varJobID)
		text := fmt.Sprintf("Job %s is live! We're finding you a courier and will message you once one takes it.", id)
		if deps.CancelKeyword != "" {
			text += fmt.Sprintf("\n\nChanged your mind? Send: %s %s", deps.CancelKeyword, id)
		}
		return text
	})
	cancelled := notice("booking_cancelled", dialog.Static("Okay, nothing was booked. Message us any time to start again."))

	b.size = &dialog.Node{
		Name: "booking_size",
		Kind: dialog.ButtonChoice,
		Content: dialog.Content{
			Body: dialog.Static("Hi! Let's get your package moving. How big is it?"),
			Buttons: []dialog.ButtonSpec{
				{ID: string(domain.PackageSmall), Label: dialog.Static("Small")},
				{ID: string(domain.PackageBig), Label: dialog.Static("Big")},
				{ID: string(domain.PackageLarge), Label: dialog.Static("Large")},
			},
		},
	}
	b.pickup = &dialog.Node{
		Name:    "booking_pickup",
		Kind:    dialog.LocationRequest,
		Content: dialog.Content{Body: dialog.Static("Where should the courier pick it up? Please share the location.")},
	}
	b.pickupContact = &dialog.Node{
		Name:    "booking_pickup_contact",
		Kind:    dialog.OpenText,
		Content: dialog.Content{Body: dialog.Static("Who hands the package over? Send a name and phone number.")},
	}
	b.dropoff = &dialog.Node{
		Name:    "booking_dropoff",
		Kind:    dialog.LocationRequest,
		Content: dialog.Content{Body: dialog.Static("Where is it going? Please share the drop-off location.")},
	}
	b.dropoffContact = &dialog.Node{
		Name:    "booking_dropoff_contact",
		Kind:    dialog.OpenText,
		Content: dialog.Content{Body: dialog.Static("Who receives it? Send a name and phone number.")},
	}
	b.speed = &dialog.Node{
		Name: "booking_speed",
		Kind: dialog.ListChoice,
		Content: dialog.Content{
			Body:         dialog.Static("How fast should it get there?"),
			ButtonLabel:  dialog.Static("Delivery options"),
			SectionsFunc: b.speedSections,
		},
	}
	b.notes = &dialog.Node{
		Name:    "booking_notes",
		Kind:    dialog.OpenText,
		Content: dialog.Content{Body: dialog.Static("Anything the courier should know? Send - to skip.")},
	}
	b.summary = &dialog.Node{
		Name: "booking_summary",
		Kind: dialog.ButtonChoice,
		Content: dialog.Content{
			Title: dialog.Static("Here's your delivery"),
			Body:  b.summaryText,
			Buttons: []dialog.ButtonSpec{
				{ID: "confirm", Label: dialog.Static("Book it")},
				{ID: "edit", Label: dialog.Static("Change something")},
				{ID: "cancel", Label: dialog.Static("Cancel")},
			},
		},
	}
	b.edit = &dialog.Node{
		Name: "booking_edit",
		Kind: dialog.ListChoice,
		Content: dialog.Content{
			Body:        dialog.Static("What would you like to change?"),
			ButtonLabel: dialog.Static("Details"),
			Sections: []dialog.SectionSpec{{
				Title: dialog.Static("Delivery"),
				Rows: []channel.Row{
					{ID: "size", Label: "Package size"},
					{ID: "pickup", Label: "Pickup location"},
					{ID: "pickup_contact", Label: "Pickup contact"},
					{ID: "dropoff", Label: "Drop-off location"},
					{ID: "dropoff_contact", Label: "Drop-off contact"},
					{ID: "speed", Label: "Speed"},
					{ID: "notes", Label: "Notes"},
				},
			}},
		},
	}

	b.size.Handlers = map[string]dialog.Target{dialog.AnswerKey: dialog.Call(b.onSize)}
	b.pickup.Handlers = map[string]dialog.Target{dialog.AnswerKey: dialog.Call(b.onLocation(varPickup, b.pickupContact))}
	b.pickupContact.Handlers = map[string]dialog.Target{dialog.AnswerKey: dialog.Call(b.onText(varPickupContact, b.dropoff))}
	b.dropoff.Handlers = map[string]dialog.Target{dialog.AnswerKey: dialog.Call(b.onLocation(varDropoff, b.dropoffContact))}
	b.dropoffContact.Handlers = map[string]dialog.Target{dialog.AnswerKey: dialog.Call(b.onText(varDropoffContact, b.speed))}
	b.speed.Handlers = map[string]dialog.Target{dialog.AnswerKey: dialog.Call(b.onSpeed)}
	b.notes.Handlers = map[string]dialog.Target{dialog.AnswerKey: dialog.Call(b.onNotes)}
	b.summary.Handlers = map[string]dialog.Target{
		"confirm": dialog.Call(b.onConfirm(posted)),
		"edit":    dialog.Goto(b.edit),
		"cancel":  dialog.Goto(cancelled),
	}
	b.edit.Handlers = map[string]dialog.Target{
		"size":            editing(b.size),
		"pickup":          editing(b.pickup),
		"pickup_contact":  editing(b.pickupContact),
		"dropoff":         editing(b.dropoff),
		"dropoff_contact": editing(b.dropoffContact),
		"speed":           editing(b.speed),
		"notes":           editing(b.notes),
	}
	return b.size
}

// editing revisits n and returns to the summary afterwards.
func editing(n *dialog.Node) dialog.Target {
	return dialog.Call(func(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
		t.Vars.Set(varEditing, true)
		return dialog.Continue(n), nil
	})
}

func (b *booking) next(t *dialog.Turn, n *dialog.Node) dialog.Result {
	if t.Vars.Bool(varEditing) {
		return dialog.Continue(b.summary)
	}
	return dialog.Continue(n)
}

func (b *booking) onSize(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
	size := domain.PackageSize(t.ChoiceID())
	if !size.Valid() {
		return dialog.Result{}, fmt.Errorf("trees: unknown package size %q", size)
	}
	t.Vars.Set(varSize, size)
	return b.next(t, b.pickup), nil
}

func (b *booking) onLocation(key string, then *dialog.Node) dialog.HandlerFunc {
	return func(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
		loc, ok := location(t.Input)
		if !ok {
			return dialog.Result{}, errors.New("trees: location reply without coordinates")
		}
		t.Vars.Set(key, loc)
		return b.next(t, then), nil
	}
}

func (b *booking) onText(key string, then *dialog.Node) dialog.HandlerFunc {
	return func(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
		t.Vars.Set(key, t.Text())
		return b.next(t, then), nil
	}
}

func (b *booking) onSpeed(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
	speed := domain.SpeedCategory(t.ChoiceID())
	if !speed.Valid() {
		return dialog.Result{}, fmt.Errorf("trees: unknown speed %q", speed)
	}
	t.Vars.Set(varSpeed, speed)
	return b.next(t, b.notes), nil
}

func (b *booking) onNotes(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
	notes := t.Text()
	if notes == "-" {
		notes = ""
	}
	t.Vars.Set(varNotes, notes)
	return dialog.Continue(b.summary), nil
}

func (b *booking) onConfirm(posted *dialog.Node) dialog.HandlerFunc {
	return func(ctx context.Context, t *dialog.Turn) (dialog.Result, error) {
		if t.Jobs == nil {
			return dialog.Result{}, errors.New("trees: booking session cannot create jobs")
		}
		draft, err := b.draft(t.Vars)
		if err != nil {
			return dialog.Result{}, err
		}
		job, err := t.Jobs.CreateJob(ctx, draft)
		if err != nil {
			return dialog.Result{}, err
		}
		t.Vars.Set(varJobID, job.ID)
		return dialog.Continue(posted), nil
	}
}

func (b *booking) draft(v *dialog.Vars) (domain.JobDraft, error) {
	requester, _ := dialog.Lookup[domain.Requester](v, VarRequester)
	size, _ := dialog.Lookup[domain.PackageSize](v, varSize)
	speed, _ := dialog.Lookup[domain.SpeedCategory](v, varSpeed)
	pickup, okPickup := dialog.Lookup[domain.Location](v, varPickup)
	dropoff, okDropoff := dialog.Lookup[domain.Location](v, varDropoff)
	if requester.Phone == "" || !size.Valid() || !speed.Valid() || !okPickup || !okDropoff {
		return domain.JobDraft{}, errors.New("trees: booking is incomplete")
	}

	draft := domain.JobDraft{
		Requester:      requester,
		Size:           size,
		Speed:          speed,
		Pickup:         pickup,
		Dropoff:        dropoff,
		PickupContact:  v.String(varPickupContact),
		DropoffContact: v.String(varDropoffContact),
		Notes:          v.String(varNotes),
	}
	if b.deps.Pricer != nil {
		q, err := b.deps.Pricer.Quote(pickup, dropoff, size, speed, requester.Returning)
		if err != nil {
			return domain.JobDraft{}, err
		}
		draft.PriceForRequester = q.Requester
		draft.PriceForFulfiller = q.Fulfiller
	}
	return draft, nil
}

// price quotes the bound route at speed, or returns 0 when it cannot.
func (b *booking) price(v *dialog.Vars, speed domain.SpeedCategory) int {
	if b.deps.Pricer == nil {
		return 0
	}
	requester, _ := dialog.Lookup[domain.Requester](v, VarRequester)
	size, _ := dialog.Lookup[domain.PackageSize](v, varSize)
	pickup, okPickup := dialog.Lookup[domain.Location](v, varPickup)
	dropoff, okDropoff := dialog.Lookup[domain.Location](v, varDropoff)
	if !okPickup || !okDropoff {
		return 0
	}
	q, err := b.deps.Pricer.Quote(pickup, dropoff, size, speed, requester.Returning)
	if err != nil {
		return 0
	}
	return q.Requester
}

func (b *booking) speedSections(v *dialog.Vars) []channel.Section {
	row := func(s domain.SpeedCategory) channel.Row {
		r := channel.Row{ID: string(s), Label: s.Label()}
		if p := b.price(v, s); p > 0 {
			r.Description = fmt.Sprintf("Price: %d", p)
		}
		return r
	}
	return []channel.Section{
		{Title: "Today", Rows: []channel.Row{row(domain.SpeedExpress), row(domain.SpeedToday)}},
		{Title: "Later", Rows: []channel.Row{row(domain.SpeedTomorrow), row(domain.SpeedTwoDays)}},
	}
}

func (b *booking) summaryText(v *dialog.Vars) string {
	size, _ := dialog.Lookup[domain.PackageSize](v, varSize)
	speed, _ := dialog.Lookup[domain.SpeedCategory](v, varSpeed)
	pickup, _ := dialog.Lookup[domain.Location](v, varPickup)
	dropoff, _ := dialog.Lookup[domain.Location](v, varDropoff)

	var s strings.Builder
	fmt.Fprintf(&s, "Pickup: %s (%s)\n", pickup.Address, v.String(varPickupContact))
	fmt.Fprintf(&s, "Drop-off: %s (%s)\n", dropoff.Address, v.String(varDropoffContact))
	fmt.Fprintf(&s, "Package: %s\n", size.Label())
	fmt.Fprintf(&s, "When: %s\n", speed.Label())
	if notes := v.String(varNotes); notes != "" {
		fmt.Fprintf(&s, "Notes: %s\n", notes)
	}
	if p := b.price(v, speed); p > 0 {
		fmt.Fprintf(&s, "Price: %d", p)
	}
	return strings.TrimRight(s.String(), "\n")
}
