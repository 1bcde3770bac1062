package logicaltime

// Checkpoint tracks what each side of a sync session has acknowledged:
// the highest server-assigned change sequence this replica has observed,
// and the highest local change the server has acknowledged.
type Checkpoint struct {
	ServerSeq int64  `json:"serverSeq"`
	ClientSeq uint32 `json:"clientSeq"`
}

// InitialCheckpoint is the zero-value checkpoint a freshly attached
// document starts from.
var InitialCheckpoint = Checkpoint{}

// Forward advances the checkpoint monotonically: ServerSeq is replaced
// outright (the server is authoritative), ClientSeq only grows (§4.3
// step 3, §8.1 invariant 5).
func (c Checkpoint) Forward(other Checkpoint) Checkpoint {
	next := c
	next.ServerSeq = other.ServerSeq
	if other.ClientSeq > next.ClientSeq {
		next.ClientSeq = other.ClientSeq
	}
	return next
}

// NextClientSeq returns the client sequence number to stamp onto the next
// locally generated change.
func (c Checkpoint) NextClientSeq() uint32 {
	return c.ClientSeq + 1
}

// ChangeID identifies a single change: its author, its position in the
// author's per-document sequence, the Lamport timestamp it was stamped
// with, and the version vector the author had observed when it created
// the change.
type ChangeID struct {
	ClientSeq     uint32
	Lamport       uint64
	Actor         ActorID
	VersionVector *VersionVector
}

// NewChangeID constructs a ChangeID, cloning vv so the caller's vector can
// keep mutating independently.
func NewChangeID(clientSeq uint32, lamport uint64, actor ActorID, vv *VersionVector) ChangeID {
	if vv == nil {
		vv = NewVersionVector()
	}
	return ChangeID{ClientSeq: clientSeq, Lamport: lamport, Actor: actor, VersionVector: vv.Clone()}
}

// TimeTicket returns the ticket identifying the change itself (delimiter
// 0; operations within the change mint further delimiters off this base).
func (c ChangeID) TimeTicket() TimeTicket {
	return TimeTicket{Lamport: c.Lamport, Delimiter: 0, Actor: c.Actor}
}

// Next derives the ChangeID for the actor's following local change: the
// client sequence and lamport both advance by one, and the version vector
// records this change's own ticket.
func (c ChangeID) Next() ChangeID {
	next := NewChangeID(c.ClientSeq+1, c.Lamport+1, c.Actor, c.VersionVector)
	next.VersionVector.Bump(c.Actor, next.Lamport)
	return next
}
