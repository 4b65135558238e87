package wifi

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Authentication types understood by the firmware.
const (
	authOpen = 1
	authPSK  = 2
)

// Credential persistence flags of the credential-block request.
const credStore = 3

// anyChannel lets the firmware scan all channels.
const anyChannel = 255

// Fixed block sizes of the two connect request layouts.
const (
	connHdrSize    = 48  // credential-block header
	pskBlockSize   = 108 // credential payload behind the header
	oldConnSize    = 106 // flat legacy request
	apConfigSize   = 102
	maxSSIDLen     = 32
	maxPassphrase  = 63
	pskPhraseField = 99
)

// Credential sizes announced in the credential-block header.
const (
	credSizePSK  = 0x98
	credSizeOpen = 0x2C
)

// Credentials selects the network to join.
type Credentials struct {
	SSID       string
	Passphrase string // empty joins an open network

	// PrecomputePSK derives the 32-byte pairwise key on the host and
	// sends it as a 64 digit hex string, which the firmware accepts in
	// place of the passphrase. Saves several seconds of chip time per
	// join on old firmware.
	PrecomputePSK bool
}

func (c Credentials) validate() error {
	if c.SSID == "" || len(c.SSID) > maxSSIDLen {
		return fmt.Errorf("ssid %q: %w", c.SSID, ErrInvalidCredentials)
	}
	if len(c.Passphrase) > maxPassphrase {
		return fmt.Errorf("passphrase too long: %w", ErrInvalidCredentials)
	}
	if c.Passphrase == "" && c.PrecomputePSK {
		return fmt.Errorf("psk without passphrase: %w", ErrInvalidCredentials)
	}
	return nil
}

// APConfig configures the built-in access point.
type APConfig struct {
	SSID     string
	Password string // empty for an open network
	Channel  uint8
	Hidden   bool
}

// encodeConnectNew builds the credential-block join request: a fixed
// header, and for protected networks a credential payload placed at the
// header size offset.
func encodeConnectNew(c Credentials) (ctrl, data []byte, err error) {
	if err := c.validate(); err != nil {
		return nil, nil, err
	}

	ctrl = make([]byte, connHdrSize)
	credSize := uint16(credSizeOpen)
	auth := byte(authOpen)
	if c.Passphrase != "" {
		credSize = credSizePSK
		auth = authPSK
	}
	binary.LittleEndian.PutUint16(ctrl[0:], credSize)
	ctrl[2] = credStore
	ctrl[3] = anyChannel
	ctrl[4] = byte(len(c.SSID))
	copy(ctrl[5:44], c.SSID)
	ctrl[44] = auth

	if c.Passphrase == "" {
		return ctrl, nil, nil
	}

	phrase := c.Passphrase
	if c.PrecomputePSK {
		phrase = derivePSKHex(c.SSID, c.Passphrase)
	}
	data = make([]byte, pskBlockSize)
	data[0] = byte(len(phrase))
	copy(data[1:1+pskPhraseField], phrase)
	return ctrl, data, nil
}

// encodeConnectOld builds the flat legacy join request.
func encodeConnectOld(c Credentials) ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, oldConnSize)
	auth := byte(authOpen)
	if c.Passphrase != "" {
		auth = authPSK
		phrase := c.Passphrase
		if c.PrecomputePSK {
			phrase = derivePSKHex(c.SSID, c.Passphrase)
		}
		copy(buf[0:64], phrase)
	}
	buf[65] = auth
	binary.LittleEndian.PutUint16(buf[68:], anyChannel)
	copy(buf[70:102], c.SSID)
	buf[103] = 1 // do not persist credentials on the chip
	return buf, nil
}

// encodeAPConfig builds the access point start request. The DHCP server is
// always enabled; mesh nodes depend on it for address assignment.
func encodeAPConfig(cfg APConfig) ([]byte, error) {
	if cfg.SSID == "" || len(cfg.SSID) > maxSSIDLen {
		return nil, fmt.Errorf("ap ssid %q: %w", cfg.SSID, ErrInvalidCredentials)
	}
	if len(cfg.Password) > maxPassphrase {
		return nil, fmt.Errorf("ap password too long: %w", ErrInvalidCredentials)
	}

	buf := make([]byte, apConfigSize)
	copy(buf[0:32], cfg.SSID)
	buf[33] = cfg.Channel
	if cfg.Password != "" {
		buf[34] = authPSK
		buf[35] = byte(len(cfg.Password))
		copy(buf[36:99], cfg.Password)
	} else {
		buf[34] = authOpen
	}
	if cfg.Hidden {
		buf[100] = 1
	}
	buf[101] = 1 // dhcp server on
	return buf, nil
}

// parseLease decodes the station lease notification: five 32-bit words,
// first address octet in the low byte.
func parseLease(body []byte) (Lease, error) {
	if len(body) < 20 {
		return Lease{}, fmt.Errorf("lease: %w", ErrShortMessage)
	}
	return Lease{
		Addr:      wireAddr(binary.LittleEndian.Uint32(body[0:])),
		Gateway:   wireAddr(binary.LittleEndian.Uint32(body[4:])),
		DNS:       wireAddr(binary.LittleEndian.Uint32(body[8:])),
		Mask:      wireAddr(binary.LittleEndian.Uint32(body[12:])),
		LeaseTime: binary.LittleEndian.Uint32(body[16:]),
	}, nil
}

// wireAddr converts the chip's 32-bit address encoding to a netip.Addr.
func wireAddr(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
