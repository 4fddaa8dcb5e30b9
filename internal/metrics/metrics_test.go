package metrics

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gracecr/sacred/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLogger() *Logger {
	l := NewLogger()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	l.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return l
}

func TestLogger_ImplicitSteps(t *testing.T) {
	l := fixedLogger()

	l.LogScalar("loss", 1.0, nil)
	l.LogScalar("loss", 0.5, nil)
	l.LogScalar("acc", 0.1, nil)
	explicit := 10.0
	l.LogScalar("loss", 0.25, &explicit)
	l.LogScalar("loss", 0.2, nil)

	entries := l.Drain()
	require.Len(t, entries, 5)

	steps := map[string][]float64{}
	for _, e := range entries {
		steps[e.Name] = append(steps[e.Name], e.Step)
	}
	assert.Equal(t, []float64{0, 1, 10, 11}, steps["loss"])
	assert.Equal(t, []float64{0}, steps["acc"])
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))
}

func TestLogger_Drain(t *testing.T) {
	l := fixedLogger()
	l.LogScalar("loss", 1, nil)
	assert.Equal(t, 1, l.Pending())

	assert.Len(t, l.Drain(), 1)
	assert.Empty(t, l.Drain(), "drained entries are not returned twice")
	assert.Zero(t, l.Pending())

	l.LogScalar("loss", 2, nil)
	entries := l.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, 1.0, entries[0].Step, "step counter survives drains")
}

func TestLogger_Concurrent(t *testing.T) {
	l := NewLogger()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.LogScalar("x", j, nil)
			}
		}()
	}
	wg.Wait()

	entries := l.Drain()
	require.Len(t, entries, 800)
	assert.Equal(t, 799.0, entries[len(entries)-1].Step)
}

func TestLogger_DependentScalar(t *testing.T) {
	l := fixedLogger()

	err := l.LogDependentScalar("speed", 3.0, nil, "time")
	require.ErrorIs(t, err, ErrMetricDependency)
	assert.Zero(t, l.Pending(), "rejected measurements are not queued")

	l.LogScalar("time", 1.0, nil)
	l.LogScalar("distance", 2.0, nil)
	require.NoError(t, l.LogDependentScalar("speed", 2.0, nil, "time", "distance", "time"))
	require.NoError(t, l.LogDependentScalar("speed", 2.5, nil, "distance", "time"))

	err = l.LogDependentScalar("speed", 3.0, nil, "time")
	require.ErrorIs(t, err, ErrMetricDependency)

	l.LogScalar("speed", 4.0, nil)

	entries := l.Drain()
	require.Len(t, entries, 5)
	for _, e := range entries[2:] {
		assert.Equal(t, []string{"distance", "time"}, e.DependsOn, "step %v", e.Step)
	}
	assert.Equal(t, []float64{0, 1, 2}, []float64{entries[2].Step, entries[3].Step, entries[4].Step})
	assert.Empty(t, entries[0].DependsOn)
}

func TestLinearize_CarriesDependencies(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series, err := Linearize([]ScalarEntry{
		{Name: "time", Step: 0, Timestamp: ts, Value: 1},
		{Name: "speed", Step: 0, Timestamp: ts, Value: 2, DependsOn: []string{"time"}},
		{Name: "speed", Step: 1, Timestamp: ts, Value: 3, DependsOn: []string{"time"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"time"}, series["speed"].DependsOn)
	assert.Empty(t, series["time"].DependsOn)
}

func TestLinearize(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []ScalarEntry{
		{Name: "loss", Step: 0, Timestamp: ts, Value: 1},
		{Name: "dist", Step: 0, Timestamp: ts, Value: Quantity{Magnitude: 1, Units: "meter"}},
		{Name: "loss", Step: 1, Timestamp: ts.Add(time.Second), Value: float32(0.5)},
		{Name: "dist", Step: 1, Timestamp: ts.Add(time.Second), Value: Quantity{Magnitude: 2, Units: "km"}},
		{Name: "dist", Step: 2, Timestamp: ts.Add(2 * time.Second), Value: "30 cm"},
	}

	series, err := Linearize(entries)
	require.NoError(t, err)
	require.Len(t, series, 2)

	loss := series["loss"]
	assert.Equal(t, []float64{0, 1}, loss.Steps)
	assert.Equal(t, []float64{1, 0.5}, loss.Values)
	assert.Equal(t, "", loss.Units)
	assert.True(t, loss.Aligned())

	dist := series["dist"]
	assert.Equal(t, "meter", dist.Units)
	require.Len(t, dist.Values, 3)
	assert.InDelta(t, 1, dist.Values[0], 1e-9)
	assert.InDelta(t, 2000, dist.Values[1], 1e-9)
	assert.InDelta(t, 0.3, dist.Values[2], 1e-9)
}

func TestLinearize_IncompatibleUnits(t *testing.T) {
	entries := []ScalarEntry{
		{Name: "dist", Value: Quantity{Magnitude: 1, Units: "meter"}},
		{Name: "dist", Step: 1, Value: Quantity{Magnitude: 1, Units: "second"}},
	}

	_, err := Linearize(entries)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLinearization))

	var le *LinearizationError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "dist", le.Entry.Name)
	assert.Equal(t, 1.0, le.Entry.Step)
}

func TestLinearize_PlainNumberClearsUnits(t *testing.T) {
	series, err := Linearize([]ScalarEntry{
		{Name: "x", Value: Quantity{Magnitude: 1, Units: "meter"}},
		{Name: "x", Step: 1, Value: 5},
		{Name: "x", Step: 2, Value: Quantity{Magnitude: 3, Units: "second"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", series["x"].Units)
}

func TestLinearize_DecodedValues(t *testing.T) {
	var raw []ScalarEntry
	require.NoError(t, json.Unmarshal([]byte(`[
		{"name": "a", "step": 0, "timestamp": "2024-01-01T00:00:00Z", "value": 1.5},
		{"name": "b", "step": 0, "timestamp": "2024-01-01T00:00:00Z", "value": {"magnitude": 1, "units": "meter"}}
	]`), &raw))

	series, err := Linearize(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, series["a"].Values)
	assert.Equal(t, "meter", series["b"].Units)
	assert.Equal(t, []float64{1}, series["b"].Values)
}

func TestLinearize_UnsupportedValue(t *testing.T) {
	_, err := Linearize([]ScalarEntry{{Name: "x", Value: []int{1}}})
	require.ErrorIs(t, err, core.ErrLinearization)
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    Quantity
		wantErr bool
	}{
		{in: "1 meter", want: Quantity{Magnitude: 1, Units: "meter"}},
		{in: "2.5 ms", want: Quantity{Magnitude: 2.5, Units: "millisecond"}},
		{in: "3 widgets", want: Quantity{Magnitude: 3, Units: "widgets"}},
		{in: "meter", wantErr: true},
		{in: "x meter", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQuantity(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuantity_Convert(t *testing.T) {
	q, err := Quantity{Magnitude: 90, Units: "minute"}.Convert("hour")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, q.Magnitude, 1e-9)
	assert.Equal(t, "hour", q.Units)

	g, err := Quantity{Magnitude: 2, Units: "kg"}.Convert("gram")
	require.NoError(t, err)
	assert.InDelta(t, 2000, g.Magnitude, 1e-9)
	assert.Equal(t, "gram", g.Units)

	_, err = Quantity{Magnitude: 1, Units: "widget"}.Convert("meter")
	assert.Error(t, err)

	_, err = Quantity{Magnitude: 1, Units: "meter"}.Convert("second")
	assert.Error(t, err)

	same, err := Quantity{Magnitude: 4, Units: "widget"}.Convert("widget")
	require.NoError(t, err)
	assert.Equal(t, 4.0, same.Magnitude)

	assert.Equal(t, "1 meter", Quantity{Magnitude: 1, Units: "meter"}.String())
}

func TestToFloat(t *testing.T) {
	for _, v := range []any{int(2), int8(2), int16(2), int32(2), int64(2), uint(2), uint8(2), uint16(2), uint32(2), uint64(2), float32(2), float64(2), json.Number("2")} {
		f, err := ToFloat(v)
		require.NoError(t, err)
		assert.Equal(t, 2.0, f)
	}
	f, err := ToFloat(true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, f)

	_, err = ToFloat("2")
	assert.Error(t, err)
}
