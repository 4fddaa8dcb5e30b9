package metrics

import (
	"fmt"
	"strconv"
	"strings"

	units "github.com/bcicen/go-units"
)

// Quantity is a magnitude with a physical unit.
type Quantity struct {
	Magnitude float64 `json:"magnitude" yaml:"magnitude"`
	Units     string  `json:"units" yaml:"units"`
}

func (q Quantity) String() string {
	return strconv.FormatFloat(q.Magnitude, 'g', -1, 64) + " " + q.Units
}

// CanonicalUnit returns the full unit name for a unit name, plural or
// symbol ("ms" -> "millisecond"). Unknown units are returned trimmed but
// otherwise unchanged.
func CanonicalUnit(name string) string {
	name = strings.TrimSpace(name)
	if u, err := units.Find(name); err == nil {
		return u.Name
	}
	return name
}

// ParseQuantity parses a "<magnitude> <unit>" string such as "1 meter".
func ParseQuantity(s string) (Quantity, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Quantity{}, fmt.Errorf("invalid quantity %q: expected \"<magnitude> <unit>\"", s)
	}
	mag, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return Quantity{Magnitude: mag, Units: CanonicalUnit(fields[1])}, nil
}

// Convert expresses q in the target unit. Both units must be known and
// measure the same quantity unless they are identical.
func (q Quantity) Convert(target string) (Quantity, error) {
	from, to := CanonicalUnit(q.Units), CanonicalUnit(target)
	if from == to {
		return Quantity{Magnitude: q.Magnitude, Units: to}, nil
	}

	src, err := units.Find(from)
	if err != nil {
		return Quantity{}, fmt.Errorf("cannot convert from unknown unit %q", q.Units)
	}
	dst, err := units.Find(to)
	if err != nil {
		return Quantity{}, fmt.Errorf("cannot convert to unknown unit %q", target)
	}
	if src.Quantity != dst.Quantity {
		return Quantity{}, fmt.Errorf("cannot convert %s (%s) to %s (%s)", src.Name, src.Quantity, dst.Name, dst.Quantity)
	}

	v, err := units.ConvertFloat(q.Magnitude, src, dst)
	if err != nil {
		return Quantity{}, fmt.Errorf("cannot convert %s to %s: %w", src.Name, dst.Name, err)
	}
	return Quantity{Magnitude: v.Float(), Units: dst.Name}, nil
}
