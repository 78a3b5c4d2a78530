package models

import "time"

// Security event types published when admission control blocks something
const (
	EventAuthLockout        = "auth_lockout"
	EventCrossAddressDenied = "cross_address_denied"
	EventRateLimited        = "rate_limited"
)

type SecurityEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	EventTime  time.Time `json:"event_time"`
	Operation  string    `json:"operation,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RetryAfter string    `json:"retry_after,omitempty"`
	Failures   int       `json:"failures,omitempty"`
	Until      time.Time `json:"until,omitzero"`
}
