package npi

// An NPI is ten digits whose last digit is a Luhn check digit computed over
// the first nine prefixed with the card issuer code 80840.
const issuerPrefixSum = 24

// ValidFormat reports whether s is exactly ten ASCII digits.
func ValidFormat(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidCheckDigit reports whether s is a well-formed NPI with a correct
// check digit.
func ValidCheckDigit(s string) bool {
	if !ValidFormat(s) {
		return false
	}
	return CheckDigit(s[:9]) == int(s[9]-'0')
}

// CheckDigit computes the check digit for the nine-digit base of an NPI.
// base must be nine ASCII digits.
func CheckDigit(base string) int {
	sum := issuerPrefixSum
	for i := 0; i < len(base); i++ {
		d := int(base[len(base)-1-i] - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10 - sum%10) % 10
}
