// Package resources defines Vector, the immutable named-quantity type used both for pool
// capacities and for task requirements.
//
// Quantities are exact decimals, so any sequence of additions and subtractions of the same
// requirements returns a pool to exactly its starting capacity.
package resources

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type component struct {
	name     string
	quantity decimal.Decimal
}

// Vector is an immutable point in resource space: a mapping from resource name to quantity.
// Names absent from a vector read as quantity 0 for all arithmetic and comparisons. The zero
// value is the empty vector.
type Vector struct {
	// components is sorted by name and never mutated after construction.
	components []component
	// nonFinite holds the names that were given a NaN or infinite quantity. They carry no
	// quantity, make the vector incomparable and are reported by Validate.
	nonFinite []string
}

// New returns a vector holding the given quantities. Each float is converted to the shortest
// decimal that represents it, so New(map[string]float64{"cpu": 0.1}) holds exactly 0.1.
func New(quantities map[string]float64) Vector {
	var v Vector
	exact := make(map[string]decimal.Decimal, len(quantities))
	for name, q := range quantities {
		if math.IsNaN(q) || math.IsInf(q, 0) {
			v.nonFinite = append(v.nonFinite, name)
			continue
		}
		exact[name] = decimal.NewFromFloat(q)
	}
	sort.Strings(v.nonFinite)
	v.components = sortedComponents(exact)
	return v
}

// NewDecimal returns a vector holding the given exact quantities.
func NewDecimal(quantities map[string]decimal.Decimal) Vector {
	return Vector{components: sortedComponents(quantities)}
}

func sortedComponents(quantities map[string]decimal.Decimal) []component {
	comps := make([]component, 0, len(quantities))
	for name, q := range quantities {
		comps = append(comps, component{name: name, quantity: q})
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].name < comps[j].name })
	return comps
}

// Of returns a vector with a single component.
func Of(name string, quantity float64) Vector {
	return New(map[string]float64{name: quantity})
}

// Quantity returns the exact quantity of the named resource, or 0 if the vector does not
// mention it.
func (v Vector) Quantity(name string) decimal.Decimal {
	i := sort.Search(len(v.components), func(i int) bool { return v.components[i].name >= name })
	if i < len(v.components) && v.components[i].name == name {
		return v.components[i].quantity
	}
	return decimal.Zero
}

// Get returns the quantity of the named resource as the nearest float64.
func (v Vector) Get(name string) float64 {
	f, _ := v.Quantity(name).Float64()
	return f
}

// Len returns the number of explicit components.
func (v Vector) Len() int {
	return len(v.components)
}

// Names returns the names of the explicit components in sorted order.
func (v Vector) Names() []string {
	names := make([]string, 0, len(v.components))
	for _, c := range v.components {
		names = append(names, c.name)
	}
	return names
}

// Map returns a copy of the explicit components as floats.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.components))
	for _, c := range v.components {
		m[c.name], _ = c.quantity.Float64()
	}
	return m
}

// IsZero reports whether every component is 0.
func (v Vector) IsZero() bool {
	for _, c := range v.components {
		if !c.quantity.IsZero() {
			return false
		}
	}
	return true
}

// HasNegative reports whether any component is strictly negative, i.e. the vector describes
// a deficit.
func (v Vector) HasNegative() bool {
	for _, c := range v.components {
		if c.quantity.Sign() < 0 {
			return true
		}
	}
	return false
}

// AnyPositive reports whether any component is strictly positive.
func (v Vector) AnyPositive() bool {
	for _, c := range v.components {
		if c.quantity.Sign() > 0 {
			return true
		}
	}
	return false
}

// MinValue returns the smallest quantity among the explicit components of v.
func (v Vector) MinValue() (float64, error) {
	if len(v.components) == 0 {
		return 0, EmptyVectorError{}
	}
	low := v.components[0].quantity
	for _, c := range v.components[1:] {
		low = decimal.Min(low, c.quantity)
	}
	f, _ := low.Float64()
	return f, nil
}

// Add returns the componentwise sum of a and b over the union of their names.
func Add(a, b Vector) Vector {
	return merge(a, b, decimal.Decimal.Add)
}

// Subtract returns the componentwise difference a - b. Components may become negative; a
// negative component is a deficit, not an error.
func Subtract(a, b Vector) Vector {
	return merge(a, b, decimal.Decimal.Sub)
}

// Min returns the componentwise minimum of a and b over the union of their names.
func Min(a, b Vector) Vector {
	return merge(a, b, func(x, y decimal.Decimal) decimal.Decimal { return decimal.Min(x, y) })
}

// merge walks both sorted component lists once, treating missing names as 0.
func merge(a, b Vector, op func(x, y decimal.Decimal) decimal.Decimal) Vector {
	out := make([]component, 0, len(a.components)+len(b.components))
	i, j := 0, 0
	for i < len(a.components) || j < len(b.components) {
		switch {
		case j >= len(b.components) ||
			(i < len(a.components) && a.components[i].name < b.components[j].name):
			out = append(out, component{a.components[i].name, op(a.components[i].quantity, decimal.Zero)})
			i++
		case i >= len(a.components) || b.components[j].name < a.components[i].name:
			out = append(out, component{b.components[j].name, op(decimal.Zero, b.components[j].quantity)})
			j++
		default:
			out = append(out, component{
				a.components[i].name,
				op(a.components[i].quantity, b.components[j].quantity),
			})
			i++
			j++
		}
	}
	return Vector{components: out}
}

// Equal reports whether every name present in either vector has the same quantity in both.
func (v Vector) Equal(other Vector) bool {
	return Compare(v, other) == OrderEqual
}

// Key returns a canonical string for v that does not depend on construction order, on
// explicit zero components or on trailing zeros. Equal vectors have equal keys, so Key can be
// used to index maps.
func (v Vector) Key() string {
	var sb strings.Builder
	for _, c := range v.components {
		if c.quantity.IsZero() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(c.name))
		sb.WriteByte('=')
		sb.WriteString(c.quantity.String())
	}
	return sb.String()
}

// Hash returns a 64-bit hash of Key. Equal vectors hash identically.
func (v Vector) Hash() uint64 {
	return xxhash.Sum64String(v.Key())
}

// String implements fmt.Stringer.
func (v Vector) String() string {
	parts := make([]string, 0, len(v.components)+len(v.nonFinite))
	for _, c := range v.components {
		parts = append(parts, fmt.Sprintf("%s:%s", c.name, c.quantity))
	}
	for _, name := range v.nonFinite {
		parts = append(parts, name+":non-finite")
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Validate implements the check.Validatable interface.
func (v Vector) Validate() []error {
	var errs []error
	for _, name := range v.nonFinite {
		errs = append(errs, errors.Errorf("resource %q has a non-finite quantity", name))
	}
	return errs
}

// MarshalJSON implements the json.Marshaler interface. Quantities are written as exact JSON
// numbers.
func (v Vector) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.Number, len(v.components))
	for _, c := range v.components {
		m[c.name] = json.Number(c.quantity.String())
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements the json.Unmarshaler interface. Quantities may be numbers or
// numeric strings and are read exactly.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var m map[string]decimal.Decimal
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "resource vector must be an object of name to quantity")
	}
	*v = NewDecimal(m)
	return nil
}
