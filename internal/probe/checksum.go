package probe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Checksum computes the per-instance keyed checksum carried as the
// 2-byte body right after an outgoing probe's L4 header, and re-derived
// by the receive loop to validate a captured reply against one of the
// instances bound to its interface.
//
// It is a truncated HMAC-SHA256 over (dst_addr, src_port, dst_port, ttl),
// keyed by instance_id, so that two instances sharing an interface
// produce checksums that collide only by chance of the truncated space.
func Checksum(instanceID uint16, dstAddr []byte, srcPort, dstPort uint16, ttl uint8) uint16 {
	var key [2]byte
	binary.BigEndian.PutUint16(key[:], instanceID)

	mac := hmac.New(sha256.New, key[:])
	mac.Write(dstAddr)
	var tuple [5]byte
	binary.BigEndian.PutUint16(tuple[0:2], srcPort)
	binary.BigEndian.PutUint16(tuple[2:4], dstPort)
	tuple[4] = ttl
	mac.Write(tuple[:])

	sum := mac.Sum(nil)
	return binary.BigEndian.Uint16(sum[:2])
}

// ValidatesChecksum reports whether the given 16-bit value is the
// checksum this agent would have stamped for instanceID and the given
// probe tuple. Used by the receive loop's integrity check.
func ValidatesChecksum(value uint16, instanceID uint16, dstAddr []byte, srcPort, dstPort uint16, ttl uint8) bool {
	return Checksum(instanceID, dstAddr, srcPort, dstPort, ttl) == value
}
