// Package util provides logging, connection ids and traffic counters shared
// by every connection.
package util

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"net"
)

// ConnID computes a 4-byte id from a connection's local and remote
// addresses. It only labels log lines and need not be reversible.
func ConnID(conn net.Conn) uint32 {
	h := fnv.New32a()
	h.Write([]byte(conn.LocalAddr().String()))
	h.Write([]byte(conn.RemoteAddr().String()))
	return h.Sum32()
}

// RandomConnID returns an id for streams that have no address pair, such as
// a WebRTC DataChannel.
func RandomConnID() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
