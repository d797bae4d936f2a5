package ordercore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polybot/internal/money"
)

func TestFindByIDsPriority(t *testing.T) {
	table := NewTable()
	o := money.Empty()
	o.LocalID = "L1"
	o.ClientID = "C1"
	o.ServerID = "S1"
	table.Insert(o)

	row := table.FindByIDs("L1", "wrong-client", "wrong-server")
	require.NotNil(t, row)
	assert.Equal(t, "L1", row.LocalID)

	row = table.FindByIDs("", "C1", "wrong-server")
	require.NotNil(t, row)
	assert.Equal(t, "C1", row.ClientID)

	row = table.FindByIDs("", "", "S1")
	require.NotNil(t, row)
	assert.Equal(t, "S1", row.ServerID)

	assert.Nil(t, table.FindByIDs("nope", "nope", "nope"))
}

func TestRemoveByCloid(t *testing.T) {
	table := NewTable()
	o := money.Empty()
	o.ClientID = "X"
	table.Insert(o)
	require.Equal(t, 1, table.Len())

	table.RemoveByCloid("X")
	assert.Equal(t, 0, table.Len())
	assert.Nil(t, table.FindByCloid("X"))
}

func TestRemoveDeadPredicate(t *testing.T) {
	table := NewTable()
	dead := money.Empty()
	dead.ClientID = "dead"
	dead.Status = money.StatusFilled
	table.Insert(dead)

	alive := money.Empty()
	alive.ClientID = "alive"
	alive.Status = money.StatusOpen
	table.Insert(alive)

	removed := table.RemoveDead(func(o *money.Order) bool { return o.Status.IsDead() })
	require.Len(t, removed, 1)
	assert.Equal(t, "dead", removed[0].ClientID)
	assert.Equal(t, 1, table.Len())
}
