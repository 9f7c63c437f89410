package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDriver_ReadsLastWrite(t *testing.T) {
	m := NewMockDriver()
	require.NoError(t, m.SetupPin(17, Output))

	lvl, err := m.ReadPin(17)
	require.NoError(t, err)
	assert.Equal(t, Low, lvl)

	require.NoError(t, m.WritePin(17, High))
	lvl, err = m.ReadPin(17)
	require.NoError(t, err)
	assert.Equal(t, High, lvl)

	assert.NoError(t, m.Close())
}

func TestMockDriver_ZeroValue(t *testing.T) {
	var m MockDriver
	require.NoError(t, m.WritePin(22, High))
	lvl, err := m.ReadPin(22)
	require.NoError(t, err)
	assert.Equal(t, High, lvl)
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	require.NoError(t, err)
	assert.IsType(t, &MockDriver{}, d)
}
