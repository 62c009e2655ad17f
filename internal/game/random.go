package game

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomSource produces uniform draws in [0,1).
type RandomSource interface {
	Float64() (float64, error)
}

// CryptoSource draws from crypto/rand. Seedable generators are never used
// for crash points.
type CryptoSource struct{}

func NewCryptoSource() CryptoSource {
	return CryptoSource{}
}

func (CryptoSource) Float64() (float64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	// 53 high bits give every representable float64 in [0,1) with step 2^-53.
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53), nil
}
