// Package utils holds small ambient helpers (byte-order codecs, a
// reset-safe timer, a leveled logger, min/max, and the RTT estimator) shared
// by every other package in this module. None of it is QUIC-specific wire
// format; the wire format itself lives in internal/wire and quicvarint.
package utils

import "encoding/binary"

// BigEndian reads and writes fixed-width integers in network byte order, for
// the handful of wire fields that aren't QUIC varints (the packet number,
// the 4-byte version field, connection ID length bytes).
var BigEndian = binary.BigEndian
