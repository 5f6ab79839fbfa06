package resources

import "github.com/shopspring/decimal"

// Ordering is the result of comparing two vectors under the componentwise partial order.
type Ordering int

const (
	// OrderIncomparable means some component of a is smaller and another is larger than in b.
	OrderIncomparable Ordering = iota
	// OrderLess means a <= b componentwise and a != b.
	OrderLess
	// OrderLessEqual means a <= b componentwise.
	OrderLessEqual
	// OrderEqual means every component is equal.
	OrderEqual
	// OrderGreaterEqual means a >= b componentwise.
	OrderGreaterEqual
	// OrderGreater means a >= b componentwise and a != b.
	OrderGreater
)

func (o Ordering) String() string {
	switch o {
	case OrderLess:
		return "LESS"
	case OrderLessEqual:
		return "LESS_EQUAL"
	case OrderEqual:
		return "EQUAL"
	case OrderGreaterEqual:
		return "GREATER_EQUAL"
	case OrderGreater:
		return "GREATER"
	default:
		return "INCOMPARABLE"
	}
}

// Implies reports whether a comparison result of o also satisfies the relation r. For
// example OrderLess implies OrderLessEqual, and OrderEqual implies both OrderLessEqual and
// OrderGreaterEqual.
func (o Ordering) Implies(r Ordering) bool {
	if o == r {
		return true
	}
	switch r {
	case OrderLessEqual:
		return o == OrderLess || o == OrderEqual
	case OrderGreaterEqual:
		return o == OrderGreater || o == OrderEqual
	default:
		return false
	}
}

// Compare returns the strictest relation between a and b: OrderLess, OrderEqual,
// OrderGreater or OrderIncomparable. Comparison covers the union of names, with absent names
// read as 0. A vector holding a non-finite quantity is incomparable to every vector.
func Compare(a, b Vector) Ordering {
	if len(a.nonFinite) > 0 || len(b.nonFinite) > 0 {
		return OrderIncomparable
	}
	var anyLess, anyGreater bool
	observe := func(x, y decimal.Decimal) {
		switch x.Cmp(y) {
		case -1:
			anyLess = true
		case 1:
			anyGreater = true
		}
	}

	i, j := 0, 0
	for i < len(a.components) || j < len(b.components) {
		switch {
		case j >= len(b.components) ||
			(i < len(a.components) && a.components[i].name < b.components[j].name):
			observe(a.components[i].quantity, decimal.Zero)
			i++
		case i >= len(a.components) || b.components[j].name < a.components[i].name:
			observe(decimal.Zero, b.components[j].quantity)
			j++
		default:
			observe(a.components[i].quantity, b.components[j].quantity)
			i++
			j++
		}
		if anyLess && anyGreater {
			return OrderIncomparable
		}
	}

	switch {
	case anyLess:
		return OrderLess
	case anyGreater:
		return OrderGreater
	default:
		return OrderEqual
	}
}

// LessEqual reports whether a <= b componentwise.
func LessEqual(a, b Vector) bool {
	return Compare(a, b).Implies(OrderLessEqual)
}

// Less reports whether a <= b componentwise and a != b.
func Less(a, b Vector) bool {
	return Compare(a, b) == OrderLess
}

// GreaterEqual reports whether a >= b componentwise.
func GreaterEqual(a, b Vector) bool {
	return Compare(a, b).Implies(OrderGreaterEqual)
}

// Greater reports whether a >= b componentwise and a != b.
func Greater(a, b Vector) bool {
	return Compare(a, b) == OrderGreater
}
