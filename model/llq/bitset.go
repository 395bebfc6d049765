package llq

// CountTrue returns the number of set entries in a member bitset.
func CountTrue(bits []bool) int {
	n := 0
	for _, b := range bits {
		if b {
			n++
		}
	}
	return n
}

// BitsEqual compares two member bitsets for identical length and content.
func BitsEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
