package trees

import (
	"context"
	"fmt"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/dialog"
	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/domain"
)

type OperatorDeps struct {
	Jobs interface{ OpenJobs() []domain.Job }
	Pool dispatch.FulfillerLister
	// Sender delivers broadcasts to the fulfiller pool.
	Sender channel.Sender
}

// Operator returns the operator console.
func Operator(deps OperatorDeps) *dialog.Node {
	root := &dialog.Node{
		Name: "operator_menu",
		Kind: dialog.ButtonChoice,
		Content: dialog.Content{
			Body: dialog.Static("Operator console. What would you like to do?"),
			Buttons: []dialog.ButtonSpec{
				{ID: "open_jobs", Label: dialog.Static("Open jobs")},
				{ID: "broadcast", Label: dialog.Static("Message couriers")},
				{ID: "exit", Label: dialog.Static("Exit")},
			},
		},
	}
	back := map[string]dialog.Target{dialog.AnswerKey: dialog.Goto(root)}

	report := &dialog.Node{
		Name:     "operator_report",
		Kind:     dialog.OpenText,
		Content:  dialog.Content{Body: fromVar(varReport)},
		Handlers: back,
	}
	sent := &dialog.Node{
		Name:     "operator_broadcast_sent",
		Kind:     dialog.OpenText,
		Content:  dialog.Content{Body: fromVar(varNote)},
		Handlers: back,
	}
	compose := &dialog.Node{
		Name:    "operator_broadcast",
		Kind:    dialog.OpenText,
		Content: dialog.Content{Body: dialog.Static("Type the message to send to every courier.")},
		Handlers: map[string]dialog.Target{
			dialog.AnswerKey: dialog.Call(func(ctx context.Context, t *dialog.Turn) (dialog.Result, error) {
				fulfillers, err := deps.Pool.ListFulfillers(ctx)
				if err != nil {
					return dialog.Result{}, err
				}
				delivered := 0
				for _, f := range fulfillers {
					if _, err := deps.Sender.Send(ctx, f.Phone, channel.Text(t.Text())); err == nil {
						delivered++
					}
				}
				t.Vars.Set(varNote, fmt.Sprintf("Sent to %d of %d couriers. Reply anything for the menu.", delivered, len(fulfillers)))
				return dialog.Continue(sent), nil
			}),
		},
	}

	root.Handlers = map[string]dialog.Target{
		"open_jobs": dialog.Call(func(_ context.Context, t *dialog.Turn) (dialog.Result, error) {
			t.Vars.Set(varReport, dispatch.Report(deps.Jobs.OpenJobs())+"\n\nReply anything for the menu.")
			return dialog.Continue(report), nil
		}),
		"broadcast": dialog.Goto(compose),
		"exit":      dialog.Terminate(),
	}
	return root
}
