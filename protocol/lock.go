package protocol

import "fmt"

// LockToKey derives the handshake key from a $Lock challenge. Each output
// byte is the XOR of adjacent lock bytes with its nibbles swapped, and bytes
// that would collide with command separators are spelled out as /%DCN...%/.
func LockToKey(lock string) string {
	if len(lock) < 3 {
		return ""
	}
	key := make([]byte, len(lock))
	key[0] = lock[0] ^ lock[len(lock)-1] ^ lock[len(lock)-2] ^ 5
	for i := 1; i < len(lock); i++ {
		key[i] = lock[i] ^ lock[i-1]
	}
	var out []byte
	for _, b := range key {
		b = b<<4 | b>>4
		switch b {
		case 0, 5, 36, 96, 124, 126:
			out = append(out, fmt.Sprintf("/%%DCN%03d%%/", b)...)
		default:
			out = append(out, b)
		}
	}
	return string(out)
}
