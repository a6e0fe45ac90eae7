package protocol

// Checksum returns the 8-bit additive checksum used for both checksum fields
// of an inner frame: 255 - (sum(data) mod 256).
//
// For any input, (sum(data) + Checksum(data)) mod 256 == 255.
func Checksum(data ...[]byte) uint8 {
	var sum uint8
	for _, part := range data {
		for _, b := range part {
			sum += b
		}
	}
	return 255 - sum
}
