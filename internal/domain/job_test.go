package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobMargin(t *testing.T) {
	cases := []struct {
		name      string
		requester int
		fulfiller int
		margin    int
		percent   int
	}{
		{"typical", 120, 84, 36, 30},
		{"rounded", 99, 80, 19, 19},
		{"unpriced", 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := Job{PriceForRequester: tc.requester, PriceForFulfiller: tc.fulfiller}
			require.Equal(t, tc.margin, j.Margin())
			require.Equal(t, tc.percent, j.MarginPercent())
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	require.False(t, StatusOpen.Terminal())
	require.False(t, StatusAssigned.Terminal())
	require.False(t, StatusInProgress.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
}

func TestAssignedTo(t *testing.T) {
	j := Job{FulfillerPhone: "972500000001"}
	require.True(t, j.AssignedTo(Fulfiller{Phone: "972500000001"}))
	require.False(t, j.AssignedTo(Fulfiller{Phone: "972500000002"}))
	require.False(t, Job{}.AssignedTo(Fulfiller{}))
}
