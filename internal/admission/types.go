package admission

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DayWindow is the length of the daily cap window
	DayWindow = 24 * time.Hour

	// MaxAuthAttempts is the number of consecutive failures that triggers a lockout
	MaxAuthAttempts = 5

	// LockoutWindow is how long a locked identifier stays locked
	LockoutWindow = 15 * time.Minute

	DefaultDailyCap          = 100
	DefaultPostInterval      = 5 * time.Second
	DefaultRetrievalInterval = 1 * time.Second

	DefaultRegistrationCap      = 10
	DefaultRegistrationInterval = time.Minute
)

var ErrInvalidConfig = errors.New("invalid admission config")

// Config holds the limits applied to every address and identity.
// Values are read once at startup and never change afterwards.
//
// Registration limits apply per address. Unlike DailyCap, a zero
// RegistrationCap means registrations are not capped.
type Config struct {
	DailyCap             int           `json:"daily_cap"`
	PostInterval         time.Duration `json:"post_interval"`
	RetrievalInterval    time.Duration `json:"retrieval_interval"`
	RegistrationCap      int           `json:"registration_cap"`
	RegistrationInterval time.Duration `json:"registration_interval"`
}

func DefaultConfig() Config {
	return Config{
		DailyCap:             DefaultDailyCap,
		PostInterval:         DefaultPostInterval,
		RetrievalInterval:    DefaultRetrievalInterval,
		RegistrationCap:      DefaultRegistrationCap,
		RegistrationInterval: DefaultRegistrationInterval,
	}
}

// Validate rejects negative limits. Zero is valid for all fields: a zero
// daily cap denies every post and a zero interval disables spacing.
func (c Config) Validate() error {
	if c.DailyCap < 0 {
		return fmt.Errorf("%w: daily cap must not be negative (got %d)", ErrInvalidConfig, c.DailyCap)
	}
	if c.PostInterval < 0 {
		return fmt.Errorf("%w: post interval must not be negative (got %s)", ErrInvalidConfig, c.PostInterval)
	}
	if c.RetrievalInterval < 0 {
		return fmt.Errorf("%w: retrieval interval must not be negative (got %s)", ErrInvalidConfig, c.RetrievalInterval)
	}
	if c.RegistrationCap < 0 {
		return fmt.Errorf("%w: registration cap must not be negative (got %d)", ErrInvalidConfig, c.RegistrationCap)
	}
	if c.RegistrationInterval < 0 {
		return fmt.Errorf("%w: registration interval must not be negative (got %s)", ErrInvalidConfig, c.RegistrationInterval)
	}
	return nil
}

// Operation identifies which kind of request a decision was made for
type Operation string

const (
	OperationPost      Operation = "post"
	OperationRetrieval Operation = "retrieval"
	OperationAuth      Operation = "auth"
	OperationRegister  Operation = "register"
)

// DenyKind names the rule that produced a denial
type DenyKind string

const (
	DenyNone                  DenyKind = ""
	DenyPostInterval          DenyKind = "post_interval"
	DenyDailyCap              DenyKind = "daily_cap"
	DenyCrossAddress          DenyKind = "cross_address"
	DenyRetrievalInterval     DenyKind = "retrieval_interval"
	DenyCrossAddressRetrieval DenyKind = "cross_address_retrieval"
	DenyLockout               DenyKind = "lockout"
	DenyRegistrationInterval  DenyKind = "registration_interval"
	DenyRegistrationCap       DenyKind = "registration_cap"
)

// Decision is the outcome of a check. A denial is a normal result, not an error.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Kind       DenyKind      `json:"kind,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(kind DenyKind, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		Kind:       kind,
		Reason:     denyReason(kind, retryAfter),
		RetryAfter: retryAfter,
	}
}

func denyReason(kind DenyKind, retryAfter time.Duration) string {
	switch kind {
	case DenyPostInterval:
		return fmt.Sprintf("Please wait %d seconds before posting again", ceilUnits(retryAfter, time.Second))
	case DenyDailyCap:
		return fmt.Sprintf("Daily comment limit exceeded. Try again in %d hours", ceilUnits(retryAfter, time.Hour))
	case DenyCrossAddress:
		return fmt.Sprintf("Daily comment limit exceeded across multiple addresses. Try again in %d hours", ceilUnits(retryAfter, time.Hour))
	case DenyRetrievalInterval:
		return fmt.Sprintf("Please wait %d seconds before loading comments again", ceilUnits(retryAfter, time.Second))
	case DenyCrossAddressRetrieval:
		return fmt.Sprintf("Comments were loaded recently from another address. Please wait %d seconds", ceilUnits(retryAfter, time.Second))
	case DenyLockout:
		return fmt.Sprintf("Too many failed login attempts. Try again in %d minutes", ceilUnits(retryAfter, time.Minute))
	case DenyRegistrationInterval:
		return fmt.Sprintf("Please wait %d seconds before registering again", ceilUnits(retryAfter, time.Second))
	case DenyRegistrationCap:
		return fmt.Sprintf("Too many registrations from this address. Try again in %d hours", ceilUnits(retryAfter, time.Hour))
	default:
		return "Request denied"
	}
}

// ceilUnits rounds d up to whole units, never reporting less than one
func ceilUnits(d, unit time.Duration) int {
	n := int(math.Ceil(float64(d) / float64(unit)))
	if n < 1 {
		return 1
	}
	return n
}

// QuotaSnapshot is a copy of one address or identity quota entry
type QuotaSnapshot struct {
	Key             string    `json:"key"`
	Count           int       `json:"count"`
	DailyResetAt    time.Time `json:"daily_reset_at"`
	LastPostAt      time.Time `json:"last_post_at"`
	LastRetrievalAt time.Time `json:"last_retrieval_at"`
}

// LinkageSnapshot is a copy of an identity's address linkage
type LinkageSnapshot struct {
	Identity            string    `json:"identity"`
	Addresses           []string  `json:"addresses"`
	AggregateDailyPosts int       `json:"aggregate_daily_posts"`
	ResetAt             time.Time `json:"reset_at"`
}

// AuthSnapshot is a copy of an authentication attempt entry
type AuthSnapshot struct {
	Identifier    string    `json:"identifier"`
	FailureCount  int       `json:"failure_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LockedUntil   time.Time `json:"locked_until"`
}

// StatusQuery selects which keys, if any, get detailed output
type StatusQuery struct {
	Address  string
	Identity string
}

// IdentityStatus is the per-identity detail of a status report
type IdentityStatus struct {
	Quota   *QuotaSnapshot   `json:"quota,omitempty"`
	Linkage *LinkageSnapshot `json:"linkage,omitempty"`
	Auth    *AuthSnapshot    `json:"auth,omitempty"`
}

// AddressStatus is the per-address detail of a status report
type AddressStatus struct {
	Quota        *QuotaSnapshot `json:"quota,omitempty"`
	Registration *QuotaSnapshot `json:"registration,omitempty"`
	Auth         *AuthSnapshot  `json:"auth,omitempty"`
}

// StatusReport holds aggregate entry counts and, when requested, the detail
// for exactly the address and identity named in the query.
type StatusReport struct {
	Limits              Config          `json:"limits"`
	AddressEntries      int             `json:"address_entries"`
	IdentityEntries     int             `json:"identity_entries"`
	LinkageEntries      int             `json:"linkage_entries"`
	AuthEntries         int             `json:"auth_entries"`
	RegistrationEntries int             `json:"registration_entries"`
	Address             *AddressStatus  `json:"address,omitempty"`
	Identity            *IdentityStatus `json:"identity,omitempty"`
}

// SweepStats counts the entries removed by one janitor pass
type SweepStats struct {
	Addresses     int `json:"addresses"`
	Identities    int `json:"identities"`
	Linkages      int `json:"linkages"`
	AuthEntries   int `json:"auth_entries"`
	Registrations int `json:"registrations"`
}

// Total returns the number of evicted entries across all stores
func (s SweepStats) Total() int {
	return s.Addresses + s.Identities + s.Linkages + s.AuthEntries + s.Registrations
}
