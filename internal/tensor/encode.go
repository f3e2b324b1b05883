package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// EncodeFloat32 packs values little-endian.
func EncodeFloat32(vals []float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// DecodeFloat32 unpacks little-endian values; trailing bytes are ignored.
func DecodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// EncodeNumbers parses decimal literals into the binary layout of p.
func EncodeNumbers(p Precision, vals []string) ([]byte, error) {
	size := p.Size()
	if size == 0 {
		return nil, fmt.Errorf("precision %q has no numeric layout", p)
	}
	b := make([]byte, size*len(vals))
	for i, s := range vals {
		dst := b[i*size:]
		switch p {
		case FP64:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
		case FP32:
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
		case FP16:
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint16(dst, float32ToHalf(float32(v)))
		case I64, I32, I16, I8:
			v, err := strconv.ParseInt(s, 10, size*8)
			if err != nil {
				return nil, err
			}
			putUint(dst, size, uint64(v))
		case U64, U32, U16, U8:
			v, err := strconv.ParseUint(s, 10, size*8)
			if err != nil {
				return nil, err
			}
			putUint(dst, size, v)
		case Bool:
			v, err := strconv.ParseBool(s)
			if err != nil {
				return nil, err
			}
			if v {
				dst[0] = 1
			}
		}
	}
	return b, nil
}

// DecodeNumbers formats the binary payload of p as decimal literals.
func DecodeNumbers(p Precision, b []byte) ([]string, error) {
	size := p.Size()
	if size == 0 {
		return nil, fmt.Errorf("precision %q has no numeric layout", p)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %d", len(b), size)
	}
	out := make([]string, len(b)/size)
	for i := range out {
		src := b[i*size:]
		switch p {
		case FP64:
			out[i] = strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(src)), 'g', -1, 64)
		case FP32:
			out[i] = strconv.FormatFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(src))), 'g', -1, 32)
		case FP16:
			out[i] = strconv.FormatFloat(float64(halfToFloat32(binary.LittleEndian.Uint16(src))), 'g', -1, 32)
		case I64, I32, I16, I8:
			u := getUint(src, size)
			shift := 64 - uint(size*8)
			out[i] = strconv.FormatInt(int64(u<<shift)>>shift, 10)
		case U64, U32, U16, U8:
			out[i] = strconv.FormatUint(getUint(src, size), 10)
		case Bool:
			out[i] = strconv.FormatBool(src[0] != 0)
		}
	}
	return out, nil
}

func putUint(dst []byte, size int, v uint64) {
	for i := 0; i < size; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func getUint(src []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(src[i]) << (8 * i)
	}
	return v
}

func float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff
	switch {
	case (bits>>23)&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>uint(14-exp))
	}
	return sign | uint16(exp<<10) | uint16(mant>>13)
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)
	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
