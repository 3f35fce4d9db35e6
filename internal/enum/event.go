package enum

type EventCategory string

const (
	EventEmailReceived  EventCategory = "email_received"
	EventSyncStatus     EventCategory = "sync_status"
	EventMutationResult EventCategory = "mutation_result"
	EventNewActivity    EventCategory = "new_activity"
	EventHeartbeat      EventCategory = "heartbeat"
)

func (c EventCategory) String() string {
	return string(c)
}

func DecodeEventCategory(s string) EventCategory {
	switch s {
	case "email_received":
		return EventEmailReceived
	case "sync_status":
		return EventSyncStatus
	case "mutation_result":
		return EventMutationResult
	case "new_activity":
		return EventNewActivity
	case "heartbeat":
		return EventHeartbeat
	default:
		return ""
	}
}

type ConnectionStatus string

const (
	ConnectionActive    ConnectionStatus = "active"
	ConnectionNotActive ConnectionStatus = "not_active"
)

func (s ConnectionStatus) String() string {
	return string(s)
}
