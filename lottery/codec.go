package lottery

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Pick is a fixed-length number combination. Element i is compared only with
// element i of another pick.
type Pick []uint8

// MarshalJSON writes the pick as a number array rather than base64.
func (p Pick) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	digits := make([]int, len(p))
	for i, d := range p {
		digits[i] = int(d)
	}
	return json.Marshal(digits)
}

// UnmarshalJSON accepts a number array. Values outside 0-255 are rejected here;
// range checks against a codec happen in Validate.
func (p *Pick) UnmarshalJSON(data []byte) error {
	var digits []int
	if err := json.Unmarshal(data, &digits); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPick, err)
	}
	if digits == nil {
		*p = nil
		return nil
	}
	out := make(Pick, len(digits))
	for i, d := range digits {
		if d < 0 || d > math.MaxUint8 {
			return fmt.Errorf("%w: digit %d at position %d", ErrInvalidPick, d, i)
		}
		out[i] = uint8(d)
	}
	*p = out
	return nil
}

// String renders the pick as "1-2-3-4".
func (p Pick) String() string {
	parts := make([]string, len(p))
	for i, d := range p {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, "-")
}

// Codec maps picks of a fixed Length over the alphabet [0, Base) to compact
// integer keys. The first element is the most significant digit.
type Codec struct {
	Length int   `json:"length"`
	Base   uint8 `json:"base"`
}

// DefaultCodec is a four digit pick over 0-9.
var DefaultCodec = Codec{Length: 4, Base: 10}

// Check reports whether the codec itself is usable: at least one position, an
// alphabet of two or more symbols, and a key space that fits in a uint64.
func (c Codec) Check() error {
	if c.Length <= 0 {
		return fmt.Errorf("codec length must be > 0, got %d", c.Length)
	}
	if c.Base < 2 {
		return fmt.Errorf("codec base must be >= 2, got %d", c.Base)
	}
	if _, ok := c.keySpace(); !ok {
		return fmt.Errorf("codec key space %d^%d overflows uint64", c.Base, c.Length)
	}
	return nil
}

// keySpace returns Base^Length and false on overflow.
func (c Codec) keySpace() (uint64, bool) {
	n := uint64(1)
	for i := 0; i < c.Length; i++ {
		if n > math.MaxUint64/uint64(c.Base) {
			return 0, false
		}
		n *= uint64(c.Base)
	}
	return n, true
}

// Validate checks length and digit range.
func (c Codec) Validate(p Pick) error {
	if len(p) != c.Length {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidPick, len(p), c.Length)
	}
	for i, d := range p {
		if d >= c.Base {
			return fmt.Errorf("%w: digit %d at position %d out of range [0,%d)", ErrInvalidPick, d, i, c.Base)
		}
	}
	return nil
}

// Encode returns the positional integer key of p.
func (c Codec) Encode(p Pick) (uint64, error) {
	if err := c.Validate(p); err != nil {
		return 0, err
	}
	var key uint64
	for _, d := range p {
		key = key*uint64(c.Base) + uint64(d)
	}
	return key, nil
}

// Decode is the inverse of Encode.
func (c Codec) Decode(key uint64) (Pick, error) {
	space, ok := c.keySpace()
	if !ok || c.Length <= 0 {
		return nil, fmt.Errorf("%w: unusable codec %d^%d", ErrInvalidPick, c.Base, c.Length)
	}
	if key >= space {
		return nil, fmt.Errorf("%w: key %d outside key space %d", ErrInvalidPick, key, space)
	}
	p := make(Pick, c.Length)
	for i := c.Length - 1; i >= 0; i-- {
		p[i] = uint8(key % uint64(c.Base))
		key /= uint64(c.Base)
	}
	return p, nil
}

// FromRandom reduces a big-endian random value modulo Base^Length and decodes
// the result. The same value always yields the same pick.
func (c Codec) FromRandom(value []byte) (Pick, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: empty random value", ErrInvalidPick)
	}
	space, ok := c.keySpace()
	if !ok {
		return nil, fmt.Errorf("%w: unusable codec %d^%d", ErrInvalidPick, c.Base, c.Length)
	}
	v := new(big.Int).SetBytes(value)
	v.Mod(v, new(big.Int).SetUint64(space))
	return c.Decode(v.Uint64())
}

// MatchCount returns how many positions hold the same digit in a and b.
// Positions are compared index by index; contiguity does not matter.
func (c Codec) MatchCount(a, b Pick) (int, error) {
	if err := c.Validate(a); err != nil {
		return 0, err
	}
	if err := c.Validate(b); err != nil {
		return 0, err
	}
	n := 0
	for i := range a {
		if a[i] == b[i] {
			n++
		}
	}
	return n, nil
}
