package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTotalOrder(t *testing.T) {
	ordered := []OrderStatus{
		StatusUnknown, StatusPending, StatusSent, StatusReceived,
		StatusUntriggered, StatusTriggered, StatusOpen, StatusPartiallyFilled,
		StatusCancelPending, StatusCancelSent, StatusCancelReceived,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1], ordered[i], "%v should sort before %v", ordered[i-1], ordered[i])
	}
	for _, terminal := range []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusError, StatusAbsent, StatusDiscarded} {
		assert.Greater(t, terminal, StatusCancelReceived)
		assert.True(t, terminal.IsDead())
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.True(t, StatusPending.IsNew())
	assert.True(t, StatusSent.IsNew())
	assert.True(t, StatusReceived.IsNew())
	assert.False(t, StatusOpen.IsNew())

	assert.True(t, StatusOpen.IsOpen())
	assert.True(t, StatusPartiallyFilled.IsOpen())
	assert.True(t, StatusUntriggered.IsOpen())
	assert.False(t, StatusCancelPending.IsOpen())

	assert.True(t, StatusCancelPending.IsCancel())
	assert.True(t, StatusCancelled.IsCancel())
	assert.False(t, StatusOpen.IsCancel())
}

func TestFromOrderRoundTrip(t *testing.T) {
	o := Empty()
	o.ClientID = "A"
	o.Status = StatusOpen
	o.Managed = true

	u := FromOrder(&o)
	require.NotNil(t, u.Managed)
	assert.True(t, *u.Managed)
	assert.Equal(t, "A", u.ClientID)

	back := ToOrder(&u)
	assert.Equal(t, o.ClientID, back.ClientID)
	assert.Equal(t, o.Status, back.Status)
	assert.True(t, back.Managed)
}

func TestLegCapacityAndFills(t *testing.T) {
	ten := decimal.NewFromInt(10)
	five := decimal.NewFromInt(5)
	leg := &Leg{Original: RequestPlaceOrder{Size: ten}}
	leg.SubOrders = append(leg.SubOrders, &SubOrder{
		Request:    RequestPlaceOrder{Size: five},
		FilledSize: five,
		Live:       false,
	})
	assert.True(t, leg.Capacity().Equal(five))
	assert.True(t, leg.FilledSize().Equal(five))
}
