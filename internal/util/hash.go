// Package util provides logging, statistics and identification helpers shared
// by the transports and the CLIs.
package util

import (
	"hash/fnv"
	"net/netip"
)

// SessionID computes a 4-byte hash of a session's two endpoints. The hash is
// used solely to tag log lines and does not need to be reversible.
func SessionID(local, remote netip.AddrPort) uint32 {
	h := fnv.New32a()
	h.Write([]byte(local.String()))
	h.Write([]byte(remote.String()))
	return h.Sum32()
}
