package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/domain"
)

func TestQueueFIFO(t *testing.T) {
	var q Queue

	head, err := q.Enqueue(courierA)
	require.NoError(t, err)
	require.True(t, head)

	head, err = q.Enqueue(courierB)
	require.NoError(t, err)
	require.False(t, head)

	_, err = q.Enqueue(domain.Fulfiller{Phone: courierA.Phone})
	require.ErrorIs(t, err, ErrAlreadyQueued)

	_, err = q.Enqueue(courierC)
	require.NoError(t, err)
	require.Equal(t, 3, q.Len())

	var order []string
	for {
		f, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, f.Phone)
	}
	require.Equal(t, []string{courierA.Phone, courierB.Phone, courierC.Phone}, order)
	_, ok := q.Head()
	require.False(t, ok)
}

func TestQueueClear(t *testing.T) {
	var q Queue
	_, _ = q.Enqueue(courierA)
	_, _ = q.Enqueue(courierB)

	cleared := q.Clear()
	require.Len(t, cleared, 2)
	require.Zero(t, q.Len())
	require.False(t, q.Contains(courierA.Phone))
}
