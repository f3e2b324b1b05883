package tensor

import (
	"fmt"
	"strings"
)

// Precision is the element type of a tensor.
type Precision string

const (
	Undefined Precision = ""
	FP64      Precision = "FP64"
	FP32      Precision = "FP32"
	FP16      Precision = "FP16"
	I64       Precision = "I64"
	I32       Precision = "I32"
	I16       Precision = "I16"
	I8        Precision = "I8"
	U64       Precision = "U64"
	U32       Precision = "U32"
	U16       Precision = "U16"
	U8        Precision = "U8"
	Bool      Precision = "BOOL"
	String    Precision = "STRING"
)

var precisionSizes = map[Precision]int{
	FP64: 8, FP32: 4, FP16: 2,
	I64: 8, I32: 4, I16: 2, I8: 1,
	U64: 8, U32: 4, U16: 2, U8: 1,
	Bool: 1,
}

// Size returns the byte width of one element, or 0 for STRING and unknown
// precisions.
func (p Precision) Size() int { return precisionSizes[p] }

// Valid reports whether p is a known precision.
func (p Precision) Valid() bool {
	_, ok := precisionSizes[p]
	return ok || p == String
}

// ParsePrecision accepts upper or lower case names, plus the common
// "float32"/"int64" style aliases.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fp64", "float64", "double":
		return FP64, nil
	case "fp32", "float32", "float":
		return FP32, nil
	case "fp16", "float16", "half":
		return FP16, nil
	case "i64", "int64":
		return I64, nil
	case "i32", "int32":
		return I32, nil
	case "i16", "int16":
		return I16, nil
	case "i8", "int8":
		return I8, nil
	case "u64", "uint64":
		return U64, nil
	case "u32", "uint32":
		return U32, nil
	case "u16", "uint16":
		return U16, nil
	case "u8", "uint8":
		return U8, nil
	case "bool", "boolean":
		return Bool, nil
	case "string", "bytes":
		return String, nil
	}
	return Undefined, fmt.Errorf("unknown precision %q", s)
}
