package dispatch

import (
	"fmt"
	"strings"

	"courier-dispatch/internal/domain"
)

// Summary describes a job for fulfillers. It leaves out requester contact
// details, which are only revealed to the assigned fulfiller.
func Summary(j domain.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Job %s*\n", j.ID)
	fmt.Fprintf(&b, "From: %s\n", place(j.Pickup))
	fmt.Fprintf(&b, "To: %s\n", place(j.Dropoff))
	fmt.Fprintf(&b, "Package: %s\n", j.Size.Label())
	fmt.Fprintf(&b, "When: %s\n", j.Speed.Label())
	if j.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", j.Notes)
	}
	fmt.Fprintf(&b, "Pay: %d", j.PriceForFulfiller)
	return b.String()
}

func place(l domain.Location) string {
	switch {
	case l.Address != "" && l.City != "" && !strings.Contains(l.Address, l.City):
		return l.Address + ", " + l.City
	case l.Address != "":
		return l.Address
	case l.City != "":
		return l.City
	default:
		return fmt.Sprintf("%.5f,%.5f", l.Lat, l.Lng)
	}
}

func advertText(j domain.Job, link string) string {
	text := fmt.Sprintf("*New job for %d*\n\n%s", j.PriceForFulfiller, Summary(j))
	if link != "" {
		text += "\n\nInterested? " + link
	}
	return text
}

func waitText(j domain.Job, position int) string {
	return fmt.Sprintf("You're number %d in line for job %s. We'll message you when it's your turn.", position, j.ID)
}

func timeUpText(j domain.Job) string {
	return fmt.Sprintf("Time is up for job %s. It has been offered to the next courier.", j.ID)
}

func soldText(j domain.Job) string {
	return fmt.Sprintf("Job %s has been taken. Thanks for your interest!", j.ID)
}

func cancelledText(j domain.Job) string {
	return fmt.Sprintf("Job %s was cancelled by the sender.", j.ID)
}

func matchedText(j domain.Job, f domain.Fulfiller) string {
	return fmt.Sprintf("Good news! A courier took job %s: %s (+%s). They will be in touch about the pickup.",
		j.ID, f.DisplayName(), f.Phone)
}

func pickedUpText(j domain.Job) string {
	return fmt.Sprintf("Your package for job %s was picked up and is on its way.", j.ID)
}

func deliveredText(j domain.Job) string {
	return fmt.Sprintf("Job %s was delivered. Thank you for shipping with us!", j.ID)
}

func soldReport(j domain.Job, f domain.Fulfiller) string {
	return fmt.Sprintf("Job %s sold to %s (+%s) for %d. Requester pays %d. Margin %d (%d%%).",
		j.ID, f.DisplayName(), f.Phone, j.PriceForFulfiller, j.PriceForRequester, j.Margin(), j.MarginPercent())
}

func underpricedAlert(j domain.Job) string {
	return fmt.Sprintf("Job %s is still unsold at %d while the requester pays %d. Automatic price raises stopped.",
		j.ID, j.PriceForFulfiller, j.PriceForRequester)
}

func newJobReport(j domain.Job) string {
	return fmt.Sprintf("New job %s from +%s: %s to %s, requester pays %d, offered at %d.",
		j.ID, j.Requester.Phone, place(j.Pickup), place(j.Dropoff), j.PriceForRequester, j.PriceForFulfiller)
}

// Report lists open jobs for operators.
func Report(jobs []domain.Job) string {
	if len(jobs) == 0 {
		return "No open jobs right now."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d open jobs:", len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n• %s %s → %s, offered %d of %d", j.ID, place(j.Pickup), place(j.Dropoff),
			j.PriceForFulfiller, j.PriceForRequester)
	}
	return b.String()
}
