package memutils

// PoisonByte is written across freed segments when poisoning is enabled, so that reads through a
// dangling address are easy to spot in a memory dump.
const PoisonByte byte = 0xDD

// Poison overwrites data with PoisonByte
func Poison(data []byte) {
	for i := range data {
		data[i] = PoisonByte
	}
}

// IsPoisoned returns true if every byte in data is PoisonByte
func IsPoisoned(data []byte) bool {
	for _, b := range data {
		if b != PoisonByte {
			return false
		}
	}
	return true
}
