package trees

import (
	"context"
	"errors"
	"fmt"

	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/dispatch"
)

// Negotiation returns the exclusive offer shown to the head of a job's
// queue.
func Negotiation(c dispatch.NegotiationClient) *dialog.Node {
	confirmed := notice("negotiation_confirmed", func(*dialog.Vars) string {
		j := c.Job()
		return fmt.Sprintf("The job is yours!\n\n%s\n\nPickup contact: %s\nDrop-off contact: %s\n\n"+
			"Message us once you've picked it up.", dispatch.Summary(j), j.PickupContact, j.DropoffContact)
	})
	missed := notice("negotiation_missed", dialog.Static("Sorry, this job is no longer available."))
	declined := notice("negotiation_declined", dialog.Static("No problem, we'll keep sending you jobs."))

	return &dialog.Node{
		Name: "negotiation_offer",
		Kind: dialog.ButtonChoice,
		Content: dialog.Content{
			Title: dialog.Static("It's your turn"),
			Body: func(*dialog.Vars) string {
				return "You have one minute to take this job.\n\n" + dispatch.Summary(c.Job())
			},
			Buttons: []dialog.ButtonSpec{
				{ID: "accept", Label: dialog.Static("Take it")},
				{ID: "decline", Label: dialog.Static("Pass")},
			},
		},
		Handlers: map[string]dialog.Target{
			"accept": dialog.Call(func(ctx context.Context, _ *dialog.Turn) (dialog.Result, error) {
				err := c.Accept(ctx)
				switch {
				case errors.Is(err, dispatch.ErrAssignmentRace):
					return dialog.Continue(missed), nil
				case err != nil:
					return dialog.Result{}, err
				}
				return dialog.Continue(confirmed), nil
			}),
			"decline": dialog.Call(func(ctx context.Context, _ *dialog.Turn) (dialog.Result, error) {
				if err := c.Decline(ctx); err != nil && !errors.Is(err, dispatch.ErrAssignmentRace) {
					return dialog.Result{}, err
				}
				return dialog.Continue(declined), nil
			}),
		},
	}
}
