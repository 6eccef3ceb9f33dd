package payload

import (
	"fmt"
	"unicode/utf16"
)

const surrogateModulus = 10_000_000_000

// EncodeNumericSurrogate maps a business UUID to its 10-digit code. The hash
// is a 31-multiplier rolling hash over the UTF-16 code units of id with
// 32-bit signed wraparound; the absolute value is reduced modulo 10^10 and
// zero padded. The mapping is one-way, so lookups enumerate businesses.
func EncodeNumericSurrogate(id string) string {
	var num int32
	for _, c := range utf16.Encode([]rune(id)) {
		num = (num << 5) - num + int32(c)
	}
	abs := int64(num)
	if abs < 0 {
		abs = -abs
	}
	return fmt.Sprintf("%0*d", NumericIDLength, abs%surrogateModulus)
}
