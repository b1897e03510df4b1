package tor

import (
	"encoding/base32"
	"net"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	onionSuffix  = ".onion"
	onionVersion = 0x03
)

// onionV3Pattern matches a v3 onion host: 56 base32 characters and ".onion".
var onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)

// checksumPrefix is prepended to the key when computing a v3 checksum.
var checksumPrefix = []byte(".onion checksum")

// IsOnionTarget reports whether a stream target ("host:port" or a bare host)
// points at a v3 onion service with a valid checksum. Streams to onion
// services do not leave through an exit node.
func IsOnionTarget(target string) bool {
	host := target
	if h, _, err := net.SplitHostPort(target); err == nil {
		host = h
	}
	return isValidV3Address(host)
}

func isValidV3Address(host string) bool {
	host = strings.ToLower(host)
	if !onionV3Pattern.MatchString(host) {
		return false
	}

	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(host, onionSuffix)))
	if err != nil || len(decoded) != 35 {
		return false
	}

	// 32-byte ed25519 key, 2-byte checksum, 1-byte version.
	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != onionVersion {
		return false
	}

	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)
	sum := sha3.Sum256(data)
	return checksum[0] == sum[0] && checksum[1] == sum[1]
}
