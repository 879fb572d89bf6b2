package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusActivated, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusInProgress, false},
		{StatusActivated, StatusInProgress, true},
		{StatusActivated, StatusCancelled, true},
		{StatusActivated, StatusPending, false},
		{StatusInProgress, StatusDelivered, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusActivated, false},
		{StatusDelivered, StatusInProgress, true},
		{StatusDelivered, StatusCompleted, true},
		{StatusDelivered, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusActivated, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

// The only edge that points back toward an earlier status is a rejected
// delivery returning to work.
func TestOnlyDeliveryRejectionMovesBackward(t *testing.T) {
	t.Parallel()

	rank := map[Status]int{
		StatusPending:    0,
		StatusActivated:  1,
		StatusInProgress: 2,
		StatusDelivered:  3,
		StatusCompleted:  4,
		StatusCancelled:  4,
	}
	for from, next := range validNext {
		for to := range next {
			if rank[to] < rank[from] {
				assert.Equal(t, StatusDelivered, from)
				assert.Equal(t, StatusInProgress, to)
			}
		}
	}
}

func TestTerminalAndInFlight(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusDelivered.Terminal())

	assert.True(t, StatusPending.InFlight())
	assert.True(t, StatusActivated.InFlight())
	assert.False(t, StatusInProgress.InFlight())

	assert.True(t, StatusDelivered.Valid())
	assert.False(t, Status("archived").Valid())
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		price, commission, seller int64
	}{
		{1000, 100, 900},
		{1005, 101, 904},
		{1004, 100, 904},
		{1, 0, 1},
		{5, 1, 4},
		{99_999, 10_000, 89_999},
	}
	for _, tt := range tests {
		c, s := Split(tt.price)
		assert.Equal(t, tt.commission, c, "commission of %d", tt.price)
		assert.Equal(t, tt.seller, s, "seller amount of %d", tt.price)
		assert.Equal(t, tt.price, c+s)
	}
}

func TestOrderClone(t *testing.T) {
	t.Parallel()

	o := &Order{
		ID:         "o1",
		Delivery:   &Delivery{Files: []string{"a.zip"}},
		Extensions: []ExtensionRequest{{ID: "x1", Status: ExtensionPending}},
	}
	c := o.Clone()
	c.Delivery.Files[0] = "b.zip"
	c.Extensions[0].Status = ExtensionApproved

	assert.Equal(t, "a.zip", o.Delivery.Files[0])
	assert.Equal(t, ExtensionPending, o.Extensions[0].Status)
}
