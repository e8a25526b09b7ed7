package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func child(id, slice string, qty int64) ChildOrder {
	return ChildOrder{ID: id, OrderID: "P1", SliceID: slice, Symbol: "XYZ", Side: SideBuy, Venue: "NYSE", Quantity: qty}
}

func TestChildBookLifecycle(t *testing.T) {
	b := NewChildBook()
	require.NoError(t, b.Track(child("c1", "s1", 500)))
	require.NoError(t, b.Track(child("c2", "s1", 300)))
	require.ErrorIs(t, b.Track(child("c1", "s1", 500)), ErrDuplicateChild)
	assert.Equal(t, 2, b.OpenForSlice("s1"))
	assert.Equal(t, int64(800), b.InFlight())

	now := time.Now()
	c, err := b.Apply(ExecutionReport{ChildID: "c1", ExecutedQuantity: 200, Price: 10, Timestamp: now, Status: ChildPartiallyFilled})
	require.NoError(t, err)
	assert.Equal(t, ChildPartiallyFilled, c.Status)
	assert.Equal(t, int64(300), c.Remaining())

	c, err = b.Apply(ExecutionReport{ChildID: "c1", ExecutedQuantity: 300, Price: 11, Timestamp: now, Status: ChildPartiallyFilled})
	require.NoError(t, err)
	assert.Equal(t, ChildFilled, c.Status, "cumulative fill reaching quantity closes the child")
	assert.InDelta(t, 10.6, c.AvgPrice, 1e-12)

	c, err = b.Apply(ExecutionReport{ChildID: "c2", Status: ChildRejected, Reason: "venue down"})
	require.NoError(t, err)
	assert.Equal(t, ChildRejected, c.Status)
	assert.Equal(t, "venue down", c.LastError)

	assert.Equal(t, 0, b.OpenForSlice("s1"))
	assert.Empty(t, b.Open())
	assert.Len(t, b.ForSlice("s1"), 2)
}

func TestChildBookRejectsBadReports(t *testing.T) {
	b := NewChildBook()
	require.NoError(t, b.Track(child("c1", "s1", 100)))

	_, err := b.Apply(ExecutionReport{ChildID: "nope", Status: ChildFilled})
	assert.ErrorIs(t, err, ErrUnknownChild)

	_, err = b.Apply(ExecutionReport{ChildID: "c1", ExecutedQuantity: 101, Price: 1, Status: ChildFilled})
	assert.ErrorIs(t, err, ErrOverfill)

	_, err = b.Apply(ExecutionReport{ChildID: "c1", ExecutedQuantity: 10, Status: ChildPartiallyFilled})
	assert.Error(t, err, "fill without price")

	_, err = b.Apply(ExecutionReport{ChildID: "c1", Status: ChildCanceled})
	require.NoError(t, err)
	_, err = b.Apply(ExecutionReport{ChildID: "c1", ExecutedQuantity: 1, Price: 1, Status: ChildPartiallyFilled})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}
