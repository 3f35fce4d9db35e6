package enum

type OperationKind string

const (
	OperationMarkRead   OperationKind = "mark_read"
	OperationMarkUnread OperationKind = "mark_unread"
	OperationStar       OperationKind = "star"
	OperationUnstar     OperationKind = "unstar"
	OperationFlag       OperationKind = "flag"
	OperationUnflag     OperationKind = "unflag"
	OperationDelete     OperationKind = "delete"
)

func (k OperationKind) String() string {
	return string(k)
}

func DecodeOperationKind(s string) OperationKind {
	switch s {
	case "mark_read":
		return OperationMarkRead
	case "mark_unread":
		return OperationMarkUnread
	case "star":
		return OperationStar
	case "unstar":
		return OperationUnstar
	case "flag":
		return OperationFlag
	case "unflag":
		return OperationUnflag
	case "delete":
		return OperationDelete
	default:
		return ""
	}
}

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationInFlight  OperationStatus = "in_flight"
	OperationSucceeded OperationStatus = "succeeded"
	OperationFailed    OperationStatus = "failed"
)

func (s OperationStatus) String() string {
	return string(s)
}

// Terminal reports whether no further attempts may be made.
func (s OperationStatus) Terminal() bool {
	return s == OperationSucceeded || s == OperationFailed
}
