package channel

import (
	"context"
	"testing"
	"time"

	"github.com/epics-modules/sdds-core/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAllScalar(t *testing.T) {
	sim := NewSimProvider()
	sim.Define("X", FieldScalarNumeric, 1, Value{Number: 1})
	layer := NewLayer(sim)
	layer.Load(&request.Set{Rows: []request.Row{{ControlName: "X"}}})

	require.NoError(t, layer.ConnectAll(context.Background(), time.Second))
	b, ok := layer.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, Connected, b.State())
	assert.Equal(t, FieldScalarNumeric, b.FieldType)
}

func TestConnectAllWaveformPromotion(t *testing.T) {
	sim := NewSimProvider()
	sim.Define("W", FieldScalarNumeric, 4, Value{})
	layer := NewLayer(sim)
	layer.Load(&request.Set{Rows: []request.Row{{ControlName: "W"}}})

	require.NoError(t, layer.ConnectAll(context.Background(), time.Second))
	b, _ := layer.Lookup("W")
	assert.True(t, b.IsWaveform())
	assert.Equal(t, 4, b.ElementCount)
}

func TestConnectAllScalarArrayHintConflict(t *testing.T) {
	sim := NewSimProvider()
	sim.Define("X", FieldScalarNumeric, 1, Value{})
	layer := NewLayer(sim)
	layer.RequireAllConnect = true
	layer.Load(&request.Set{Rows: []request.Row{{ControlName: "X", ExpectFieldType: "scalarArray"}}})

	err := layer.ConnectAll(context.Background(), time.Second)
	require.Error(t, err)
	var fe *FieldMismatchError
	require.ErrorAs(t, err, &fe)
}

func TestDisableRowSkipped(t *testing.T) {
	sim := NewSimProvider()
	layer := NewLayer(sim)
	layer.Load(&request.Set{Rows: []request.Row{{ControlName: "X", Disable: true}, {ControlName: "Y"}}})
	require.Len(t, layer.Bindings, 1)
	assert.Equal(t, "Y", layer.Bindings[0].Row.ControlName)
}
