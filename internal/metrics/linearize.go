package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Gracecr/sacred/pkg/core"
)

// LinearizationError reports an entry whose value could not be folded into
// its metric's series.
type LinearizationError struct {
	Entry ScalarEntry
	Err   error
}

func (e *LinearizationError) Error() string {
	return fmt.Sprintf("error while linearizing %s at step %v: %v", e.Entry.Name, e.Entry.Step, e.Err)
}

// Unwrap returns both the cause and core.ErrLinearization.
func (e *LinearizationError) Unwrap() []error {
	return []error{core.ErrLinearization, e.Err}
}

// Linearize groups entries by metric name, preserving logging order within
// each metric. Quantities are split into magnitude and units; a quantity is
// converted to the units already seen for its metric, and an incompatible
// unit fails with *LinearizationError. A plain number clears the metric's
// units. A metric's dependencies are those of its first entry that names
// any.
func Linearize(entries []ScalarEntry) (map[string]core.MetricSeries, error) {
	series := make(map[string]core.MetricSeries)
	for _, entry := range entries {
		m := series[entry.Name]

		magnitude, unit, err := linearizeValue(entry.Value, m.Units)
		if err != nil {
			return nil, &LinearizationError{Entry: entry, Err: err}
		}

		m.Steps = append(m.Steps, entry.Step)
		m.Values = append(m.Values, magnitude)
		m.Timestamps = append(m.Timestamps, entry.Timestamp)
		m.Units = unit
		if m.DependsOn == nil && len(entry.DependsOn) > 0 {
			m.DependsOn = append([]string(nil), entry.DependsOn...)
		}
		series[entry.Name] = m
	}
	return series, nil
}

func linearizeValue(value any, expectedUnits string) (float64, string, error) {
	switch v := value.(type) {
	case Quantity:
		return linearizeQuantity(v, expectedUnits)
	case *Quantity:
		if v == nil {
			return 0, "", errors.New("nil quantity")
		}
		return linearizeQuantity(*v, expectedUnits)
	case map[string]any:
		q, err := quantityFromMap(v)
		if err != nil {
			return 0, "", err
		}
		return linearizeQuantity(q, expectedUnits)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, "", nil
		}
		q, err := ParseQuantity(v)
		if err != nil {
			return 0, "", err
		}
		return linearizeQuantity(q, expectedUnits)
	}

	f, err := ToFloat(value)
	if err != nil {
		return 0, "", err
	}
	return f, "", nil
}

func linearizeQuantity(q Quantity, expectedUnits string) (float64, string, error) {
	q.Units = CanonicalUnit(q.Units)
	if expectedUnits != "" {
		converted, err := q.Convert(expectedUnits)
		if err != nil {
			return 0, "", err
		}
		q = converted
	}
	return q.Magnitude, q.Units, nil
}

func quantityFromMap(m map[string]any) (Quantity, error) {
	mag, ok := m["magnitude"]
	if !ok {
		return Quantity{}, errors.New("quantity is missing magnitude")
	}
	unit, ok := m["units"].(string)
	if !ok {
		return Quantity{}, errors.New("quantity is missing units")
	}
	f, err := ToFloat(mag)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Magnitude: f, Units: unit}, nil
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("unsupported metric value of type %T", value)
}
