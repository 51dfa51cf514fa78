package models

type NodeID string

func (n NodeID) String() string {
	return string(n)
}

type MembershipEventType int8

const (
	MembershipUnknown MembershipEventType = iota
	MembershipJoined
	MembershipLeft
	MembershipDead
	MembershipSuspect
)

type MembershipEvent struct {
	Type MembershipEventType
	From NodeID
}
