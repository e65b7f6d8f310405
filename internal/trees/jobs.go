package trees

import (
	"context"
	"errors"
	"fmt"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/domain"
)

// JobLifecycle is what a fulfiller may do with jobs they hold.
type JobLifecycle interface {
	Job(id string) (domain.Job, bool)
	ActiveJobsFor(phone string) []domain.Job
	ConfirmPickup(ctx context.Context, jobID string, f domain.Fulfiller) error
	ConfirmDelivery(ctx context.Context, jobID string, f domain.Fulfiller) error
}

// FulfillerJobs returns the flow a fulfiller with active jobs lands in.
// Sessions must be started with VarFulfiller bound.
func FulfillerJobs(l JobLifecycle) *dialog.Node {
	done := notice("jobs_done", fromVar(varNote))

	status := &dialog.Node{
		Name: "jobs_status",
		Kind: dialog.ButtonChoice,
		Content: dialog.Content{
			Body: func(v *dialog.Vars) string {
				j, ok := l.Job(v.String(varSelectedJob))
				if !ok {
					return "This job is no longer active."
				}
				return dispatch.Summary(j) + "\n\nStatus: " + statusLabel(j.Status)
			},
			ButtonsFunc: func(v *dialog.Vars) []channel.Button {
				j, _ := l.Job(v.String(varSelectedJob))
				switch j.Status {
				case domain.StatusAssigned:
					return []channel.Button{{ID: "picked_up", Label: "Picked it up"}}
				case domain.StatusInProgress:
					return []channel.Button{{ID: "delivered", Label: "Delivered"}}
				}
				return nil
			},
			Buttons: []dialog.ButtonSpec{{ID: "later", Label: dialog.Static("Later")}},
		},
	}
	status.Handlers = map[string]dialog.Target{
		"picked_up": dialog.Call(transition(func(ctx context.Context, id string, f domain.Fulfiller) error {
			return l.ConfirmPickup(ctx, id, f)
		}, "Great, the sender knows it's on the way.", done)),
		"delivered": dialog.Call(transition(func(ctx context.Context, id string, f domain.Fulfiller) error {
			return l.ConfirmDelivery(ctx, id, f)
		}, "Delivered! Thanks, the job is closed.", done)),
		"later": dialog.Terminate(),
	}

	return &dialog.Node{
		Name: "jobs_pick",
		Kind: dialog.ListChoice,
		Content: dialog.Content{
			Body:        dialog.Static("Which job is this about?"),
			ButtonLabel: dialog.Static("Your jobs"),
			SectionsFunc: func(v *dialog.Vars) []channel.Section {
				f, _ := dialog.Lookup[domain.Fulfiller](v, VarFulfiller)
				var rows []channel.Row
				for _, j := range l.ActiveJobsFor(f.Phone) {
					rows = append(rows, channel.Row{
						ID:          j.ID,
						Label:       "Job " + j.ID,
						Description: fmt.Sprintf("%s → %s", j.Pickup.City, j.Dropoff.City),
					})
				}
				if len(rows) == 0 {
					return nil
				}
				return []channel.Section{{Title: "Active", Rows: rows}}
			},
		},
		Handlers: map[string]dialog.Target{
			dialog.AnswerKey: dialog.Call(func(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
				t.Vars.Set(varSelectedJob, t.ChoiceID())
				return dialog.Continue(status), nil
			}),
		},
	}
}

type transitionFunc func(ctx context.Context, jobID string, f domain.Fulfiller) error

func transition(apply transitionFunc, ok string, done *dialog.Node) dialog.HandlerFunc {
	return func(ctx context.Context, t *dialog.Turn) (dialog.Result, error) {
		f, found := dialog.Lookup[domain.Fulfiller](t.Vars, VarFulfiller)
		if !found {
			return dialog.Result{}, errors.New("trees: fulfiller binding missing")
		}
		err := apply(ctx, t.Vars.String(varSelectedJob), f)
		switch {
		case errors.Is(err, dispatch.ErrInvalidTransition), errors.Is(err, dispatch.ErrJobNotFound):
			t.Vars.Set(varNote, "This job's status already changed.")
		case err != nil:
			return dialog.Result{}, err
		default:
			t.Vars.Set(varNote, ok)
		}
		return dialog.Continue(done), nil
	}
}

func statusLabel(s domain.JobStatus) string {
	switch s {
	case domain.StatusAssigned:
		return "waiting for pickup"
	case domain.StatusInProgress:
		return "on the way"
	default:
		return string(s)
	}
}
