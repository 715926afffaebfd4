package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillTransitionsStatus(t *testing.T) {
	o := NewOrder("alice", "AAA", Buy, Limit, 10, 50)
	assert.Equal(t, New, o.Status)

	o.Fill(4)
	assert.Equal(t, PartiallyExecuted, o.Status)
	assert.Equal(t, int64(6), o.Remaining())

	o.Fill(6)
	assert.Equal(t, Executed, o.Status)
	assert.Equal(t, int64(0), o.Remaining())
}

func TestCancelRejectsTerminalOrder(t *testing.T) {
	o := NewOrder("alice", "AAA", Buy, Limit, 10, 50)
	require.NoError(t, o.Cancel())
	assert.Equal(t, Cancelled, o.Status)

	err := o.Cancel()
	require.Error(t, err)
}

func TestLockRequirementBuyVsSell(t *testing.T) {
	buy := NewOrder("alice", "AAA", Buy, Limit, 10, 50)
	ticker, amount := buy.LockRequirement("RUB")
	assert.Equal(t, "RUB", ticker)
	assert.Equal(t, int64(500), amount)

	sell := NewOrder("alice", "AAA", Sell, Limit, 10, 50)
	ticker, amount = sell.LockRequirement("RUB")
	assert.Equal(t, "AAA", ticker)
	assert.Equal(t, int64(10), amount)
}

func TestStoreGetScopedToOwner(t *testing.T) {
	s := NewStore()
	o := NewOrder("alice", "AAA", Buy, Limit, 10, 50)
	s.Put(o)

	got, err := s.Get(o.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = s.Get(o.ID, "bob")
	require.Error(t, err)
}

func TestListByOwnerPreservesInsertionOrder(t *testing.T) {
	s := NewStore()
	first := NewOrder("alice", "AAA", Buy, Limit, 1, 1)
	second := NewOrder("alice", "BBB", Sell, Limit, 1, 1)
	s.Put(first)
	s.Put(second)

	got := s.ListByOwner("alice")
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}
