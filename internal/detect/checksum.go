package detect

// digitsOf returns the ASCII digits of s in order.
func digitsOf(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			out = append(out, c-'0')
		}
	}
	return out
}

// Luhn reports whether the digits in s pass the mod-10 card checksum.
// Non-digit characters are ignored; fewer than 13 digits never pass.
func Luhn(s string) bool {
	d := digitsOf(s)
	if len(d) < 13 || len(d) > 19 {
		return false
	}
	sum := 0
	for i := len(d) - 1; i >= 0; i-- {
		n := int(d[i])
		if (len(d)-1-i)%2 == 1 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
	}
	return sum%10 == 0
}

var abaWeights = [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}

// ABARouting reports whether s is exactly nine digits passing the ABA
// routing-number checksum.
func ABARouting(s string) bool {
	if len(s) != 9 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * abaWeights[i]
	}
	return sum%10 == 0
}
