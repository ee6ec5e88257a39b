package utils

import (
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils/linkedlist"
)

// NewConnectionID is one entry in a connection ID manager's queue of
// connection IDs offered by the peer via NEW_CONNECTION_ID frames, not yet
// retired.
type NewConnectionID struct {
	SequenceNumber      uint64
	ConnectionID        protocol.ConnectionID
	StatelessResetToken *[16]byte
}

// NewConnectionIDList is the queue a connIDManager keeps of connection IDs
// offered by the peer, ordered by sequence number.
type NewConnectionIDList = linkedlist.List[NewConnectionID]

// NewConnectionIDElement is an element of a NewConnectionIDList.
type NewConnectionIDElement = linkedlist.Element[NewConnectionID]
