package checksum

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Field returns the note checksum of a field: the first 32 bits of its SHA-1
// digest, as stored in the notes.csum column.
func Field(s string) int64 {
	h := sha1.Sum([]byte(s))
	return int64(binary.BigEndian.Uint32(h[:4]))
}
