package wifi

import (
	"crypto/sha1"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// WPA2 pairwise master key derivation parameters.
const (
	pskIterations = 4096
	pskKeyLen     = 32
)

// DerivePSK computes the WPA2 pairwise master key for an SSID and
// passphrase.
func DerivePSK(ssid, passphrase string) [pskKeyLen]byte {
	var key [pskKeyLen]byte
	copy(key[:], pbkdf2.Key([]byte(passphrase), []byte(ssid), pskIterations, pskKeyLen, sha1.New))
	return key
}

// derivePSKHex returns the key as the 64 digit hex string the firmware
// accepts in place of a passphrase.
func derivePSKHex(ssid, passphrase string) string {
	key := DerivePSK(ssid, passphrase)
	return hex.EncodeToString(key[:])
}
