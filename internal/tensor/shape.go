package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Any marks a dynamic dimension bound.
const Any int64 = -1

// Dimension is either a static size, a [Min, Max] range, or fully dynamic
// (both bounds Any).
type Dimension struct {
	Min int64
	Max int64
}

func Fixed(n int64) Dimension        { return Dimension{Min: n, Max: n} }
func Range(min, max int64) Dimension { return Dimension{Min: min, Max: max} }
func Dynamic() Dimension             { return Dimension{Min: Any, Max: Any} }
func (d Dimension) IsAny() bool      { return d.Min == Any && d.Max == Any }
func (d Dimension) IsStatic() bool   { return d.Min == d.Max && d.Min != Any }
func (d Dimension) IsRange() bool    { return !d.IsAny() && !d.IsStatic() }

// Match reports whether a concrete size satisfies the dimension.
func (d Dimension) Match(v int64) bool {
	if v < 0 {
		return false
	}
	if d.IsAny() {
		return true
	}
	if d.Min != Any && v < d.Min {
		return false
	}
	if d.Max != Any && v > d.Max {
		return false
	}
	return true
}

func (d Dimension) String() string {
	switch {
	case d.IsAny():
		return "-1"
	case d.IsStatic():
		return strconv.FormatInt(d.Min, 10)
	default:
		return strconv.FormatInt(d.Min, 10) + ":" + strconv.FormatInt(d.Max, 10)
	}
}

// ParseDimension parses "5", "-1" or "1:10".
func ParseDimension(s string) (Dimension, error) {
	s = strings.TrimSpace(s)
	if lo, hi, ok := strings.Cut(s, ":"); ok {
		min, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return Dimension{}, fmt.Errorf("dimension %q: %w", s, err)
		}
		max, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil {
			return Dimension{}, fmt.Errorf("dimension %q: %w", s, err)
		}
		if min < 0 || max < 0 || min > max {
			return Dimension{}, fmt.Errorf("dimension %q: invalid range", s)
		}
		return Range(min, max), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Dimension{}, fmt.Errorf("dimension %q: %w", s, err)
	}
	if v == Any {
		return Dynamic(), nil
	}
	if v < 0 {
		return Dimension{}, fmt.Errorf("dimension %q: negative size", s)
	}
	return Fixed(v), nil
}

// Shape is a list of dimensions, possibly partially dynamic.
type Shape []Dimension

// FromDims builds a static shape.
func FromDims(dims []int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = Fixed(d)
	}
	return s
}

// ParseShape parses "(1,3,-1,10:20)" or "[1,3,224,224]".
func ParseShape(s string) (Shape, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return nil, fmt.Errorf("shape %q: too short", s)
	}
	first, last := s[0], s[len(s)-1]
	if !(first == '(' && last == ')') && !(first == '[' && last == ']') {
		return nil, fmt.Errorf("shape %q: must be enclosed in () or []", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return Shape{}, nil
	}
	parts := strings.Split(body, ",")
	out := make(Shape, 0, len(parts))
	for _, p := range parts {
		d, err := ParseDimension(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Match reports whether dims has the same rank and each size fits.
func (s Shape) Match(dims []int64) bool {
	if len(s) != len(dims) {
		return false
	}
	for i, d := range s {
		if !d.Match(dims[i]) {
			return false
		}
	}
	return true
}

// Static returns the concrete dims when every dimension is static.
func (s Shape) Static() ([]int64, bool) {
	out := make([]int64, len(s))
	for i, d := range s {
		if !d.IsStatic() {
			return nil, false
		}
		out[i] = d.Min
	}
	return out, true
}

// Clone returns an independent copy.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	return append(Shape(nil), s...)
}

// DimsString formats concrete dims the same way Shape.String does.
func DimsString(dims []int64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
