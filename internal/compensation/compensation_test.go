package compensation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_ReverseOrder(t *testing.T) {
	m := NewManager()

	var order []string
	for _, name := range []string{"reserve", "charge", "ship"} {
		n := name
		m.Add(n, func(ctx context.Context) error {
			order = append(order, n)
			return nil
		}, false)
	}

	err := m.Execute(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, []string{"ship", "charge", "reserve"}, order)
}

func TestExecute_NonCriticalFailureContinues(t *testing.T) {
	m := NewManager()

	var order []string
	m.Add("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	}, false)
	m.Add("second", func(ctx context.Context) error {
		order = append(order, "second")
		return errors.New("rollback failed")
	}, false)
	m.Add("third", func(ctx context.Context) error {
		order = append(order, "third")
		return nil
	}, false)

	err := m.Execute(context.Background())

	require.Error(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, order, "non-critical failure must not stop the unwind")

	var unwind *UnwindError
	require.ErrorAs(t, err, &unwind)
	assert.Equal(t, []string{"second"}, unwind.Failed)
	assert.Equal(t, 2, unwind.Succeeded)
	assert.False(t, unwind.Halted)
}

func TestExecute_CriticalFailureHalts(t *testing.T) {
	m := NewManager()

	var order []string
	m.Add("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	}, false)
	m.Add("second", func(ctx context.Context) error {
		order = append(order, "second")
		return errors.New("rollback failed")
	}, true)
	m.Add("third", func(ctx context.Context) error {
		order = append(order, "third")
		return nil
	}, false)

	err := m.Execute(context.Background())

	require.Error(t, err)
	assert.Equal(t, []string{"third", "second"}, order, "critical failure must stop the unwind")

	var unwind *UnwindError
	require.ErrorAs(t, err, &unwind)
	assert.True(t, unwind.Halted)
	assert.Contains(t, unwind.Error(), "halted by critical step")
}

func TestExecute_ClearsLedger(t *testing.T) {
	m := NewManager()
	m.Add("step", func(ctx context.Context) error { return errors.New("boom") }, false)

	require.Error(t, m.Execute(context.Background()))
	assert.Equal(t, 0, m.Len(), "ledger cleared even when rollbacks fail")
	assert.NoError(t, m.Execute(context.Background()), "empty unwind succeeds")
}
