package admission

import (
	"strings"
	"time"

	"bulletin-service/internal/bucketing"
	"bulletin-service/internal/clock"

	"go.uber.org/zap"
)

const (
	unknownAddress = "unknown"

	authAddressPrefix = "addr:"
	authLoginPrefix   = "login:"
)

// Observer is notified about admission outcomes. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	Decided(op Operation, address, identity string, d Decision)
	LockedOut(identifier string, failures int, until time.Time)
}

// Observers fans notifications out to several observers
type Observers []Observer

func (o Observers) Decided(op Operation, address, identity string, d Decision) {
	for _, obs := range o {
		obs.Decided(op, address, identity, d)
	}
}

func (o Observers) LockedOut(identifier string, failures int, until time.Time) {
	for _, obs := range o {
		obs.LockedOut(identifier, failures, until)
	}
}

// Controller is the admission-control facade used by request handlers.
//
// Callers pair every Check* with the matching Record* after the guarded
// action succeeds. The pair is not atomic: concurrent requests for the same
// key can both pass a check before either records.
type Controller struct {
	cfg      Config
	clock    clock.Clock
	logger   *zap.Logger
	observer Observer

	addresses     *quotaStore
	identities    *quotaStore
	registrations *quotaStore
	linkage       *linkageStore
	auth          *authTracker
}

// Option customizes a Controller
type Option func(*options)

type options struct {
	clock    clock.Clock
	logger   *zap.Logger
	observer Observer
	shards   int
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithShards sets how many lock shards each store is split into
func WithShards(n int) Option {
	return func(o *options) { o.shards = n }
}

// New creates a controller with its own empty stores
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		clock:  clock.Real{},
		logger: zap.NewNop(),
		shards: bucketing.DefaultShards,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = Observers(nil)
	}

	buckets := bucketing.NewBucketingManager(o.shards)

	return &Controller{
		cfg:           cfg,
		clock:         o.clock,
		logger:        o.logger,
		observer:      o.observer,
		addresses:     newQuotaStore(commentRule(cfg), cfg.RetrievalInterval, buckets),
		identities:    newQuotaStore(commentRule(cfg), cfg.RetrievalInterval, buckets),
		registrations: newQuotaStore(registrationRule(cfg), 0, buckets),
		linkage:       newLinkageStore(buckets),
		auth:          newAuthTracker(buckets),
	}, nil
}

// Config returns the limits the controller was built with
func (c *Controller) Config() Config {
	return c.cfg
}

// NormalizeLogin case-folds a username or email for lockout tracking
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return unknownAddress
	}
	return address
}

// CheckPost decides whether address/identity may post a comment now.
// identity may be empty, in which case only the address is checked.
// Identities are keyed case-insensitively, like logins.
func (c *Controller) CheckPost(address, identity string) Decision {
	address = normalizeAddress(address)
	identity = NormalizeLogin(identity)
	now := c.clock.Now()

	d := c.checkPost(address, identity, now)
	c.decided(OperationPost, address, identity, d)
	return d
}

func (c *Controller) checkPost(address, identity string, now time.Time) Decision {
	var linked []string
	var aggregate int
	if identity != "" {
		linked, aggregate = c.linkage.touch(identity, address, now)
	}

	if d := c.addresses.checkPost(address, now); !d.Allowed {
		return d
	}
	if identity == "" {
		return allow()
	}

	// Only identities seen on more than one address are aggregated
	if len(linked) > 1 {
		for _, addr := range linked {
			q := c.addresses.current(addr, now)
			if q.Count+aggregate >= c.cfg.DailyCap {
				return deny(DenyCrossAddress, q.DailyResetAt.Add(DayWindow).Sub(now))
			}
		}
	}

	return c.identities.checkPost(identity, now)
}

// RecordPost commits a successful post
func (c *Controller) RecordPost(address, identity string) {
	address = normalizeAddress(address)
	identity = NormalizeLogin(identity)
	now := c.clock.Now()

	c.addresses.recordPost(address, now)
	if identity != "" {
		c.identities.recordPost(identity, now)
		c.linkage.recordPost(identity, now)
	}
}

// CheckRetrieval decides whether address/identity may fetch comments now.
// identity is optional.
func (c *Controller) CheckRetrieval(address, identity string) Decision {
	address = normalizeAddress(address)
	identity = NormalizeLogin(identity)
	now := c.clock.Now()

	d := c.checkRetrieval(address, identity, now)
	c.decided(OperationRetrieval, address, identity, d)
	return d
}

func (c *Controller) checkRetrieval(address, identity string, now time.Time) Decision {
	if d := c.addresses.checkRetrieval(address, now); !d.Allowed {
		return d
	}
	if identity == "" {
		return allow()
	}
	if d := c.identities.checkRetrieval(identity, now); !d.Allowed {
		return d
	}

	linked := c.linkage.linked(identity)
	if len(linked) <= 1 {
		return allow()
	}

	var wait time.Duration
	for _, addr := range linked {
		q := c.addresses.peek(addr)
		if q == nil {
			continue
		}
		if elapsed := now.Sub(q.LastRetrievalAt); elapsed < c.cfg.RetrievalInterval {
			if remaining := c.cfg.RetrievalInterval - elapsed; remaining > wait {
				wait = remaining
			}
		}
	}
	if wait > 0 {
		return deny(DenyCrossAddressRetrieval, wait)
	}
	return allow()
}

// RecordRetrieval commits a successful fetch
func (c *Controller) RecordRetrieval(address, identity string) {
	address = normalizeAddress(address)
	identity = NormalizeLogin(identity)
	now := c.clock.Now()

	c.addresses.recordRetrieval(address, now)
	if identity != "" {
		c.identities.recordRetrieval(identity, now)
	}
}

// CheckRegistration decides whether address may create another account now
func (c *Controller) CheckRegistration(address string) Decision {
	address = normalizeAddress(address)

	d := c.registrations.checkPost(address, c.clock.Now())
	c.decided(OperationRegister, address, "", d)
	return d
}

// RecordRegistration counts an accepted registration against address
func (c *Controller) RecordRegistration(address string) {
	c.registrations.recordPost(normalizeAddress(address), c.clock.Now())
}

// CheckAuth denies a login attempt when either the source address or the
// normalized login identifier is locked out.
func (c *Controller) CheckAuth(address, login string) Decision {
	address = normalizeAddress(address)
	now := c.clock.Now()

	wait := c.auth.check(authAddressPrefix+address, now)
	if norm := NormalizeLogin(login); norm != "" {
		if w := c.auth.check(authLoginPrefix+norm, now); w > wait {
			wait = w
		}
	}

	d := allow()
	if wait > 0 {
		d = deny(DenyLockout, wait)
	}
	c.decided(OperationAuth, address, NormalizeLogin(login), d)
	return d
}

// RecordAuthFailure registers a failed login for both the address and the
// login identifier.
func (c *Controller) RecordAuthFailure(address, login string) {
	address = normalizeAddress(address)
	now := c.clock.Now()

	c.recordAuthFailure(authAddressPrefix+address, now)
	if norm := NormalizeLogin(login); norm != "" {
		c.recordAuthFailure(authLoginPrefix+norm, now)
	}
}

func (c *Controller) recordAuthFailure(identifier string, now time.Time) {
	failures, until := c.auth.recordFailure(identifier, now)
	if until.IsZero() {
		return
	}

	c.logger.Warn("Authentication locked out",
		zap.String("identifier", identifier),
		zap.Int("failures", failures),
		zap.Time("locked_until", until),
	)
	c.observer.LockedOut(identifier, failures, until)
}

// RecordAuthSuccess clears the failure history of both the address and the
// login identifier.
func (c *Controller) RecordAuthSuccess(address, login string) {
	address = normalizeAddress(address)

	c.auth.recordSuccess(authAddressPrefix + address)
	if norm := NormalizeLogin(login); norm != "" {
		c.auth.recordSuccess(authLoginPrefix + norm)
	}
}

// Status reports aggregate entry counts. Per-key detail is included only for
// the address and identity named in q.
func (c *Controller) Status(q StatusQuery) StatusReport {
	report := StatusReport{
		Limits:              c.cfg,
		AddressEntries:      c.addresses.size(),
		IdentityEntries:     c.identities.size(),
		LinkageEntries:      c.linkage.size(),
		AuthEntries:         c.auth.size(),
		RegistrationEntries: c.registrations.size(),
	}

	if address := strings.TrimSpace(q.Address); address != "" {
		report.Address = &AddressStatus{
			Quota:        c.addresses.peek(address),
			Registration: c.registrations.peek(address),
			Auth:         c.authSnapshot(authAddressPrefix, address),
		}
	}

	if identity := NormalizeLogin(q.Identity); identity != "" {
		report.Identity = &IdentityStatus{
			Quota:   c.identities.peek(identity),
			Linkage: c.linkage.peek(identity),
			Auth:    c.authSnapshot(authLoginPrefix, identity),
		}
	}

	return report
}

func (c *Controller) authSnapshot(prefix, identifier string) *AuthSnapshot {
	snap := c.auth.peek(prefix + identifier)
	if snap != nil {
		snap.Identifier = identifier
	}
	return snap
}

// Sweep evicts stale entries from every store
func (c *Controller) Sweep() SweepStats {
	now := c.clock.Now()
	return SweepStats{
		Addresses:     c.addresses.sweep(now),
		Identities:    c.identities.sweep(now),
		Linkages:      c.linkage.sweep(now),
		AuthEntries:   c.auth.sweep(now),
		Registrations: c.registrations.sweep(now),
	}
}

// Reset drops all tracked state. Intended for test harnesses.
func (c *Controller) Reset() {
	c.addresses.reset()
	c.identities.reset()
	c.registrations.reset()
	c.linkage.reset()
	c.auth.reset()
	c.logger.Info("Admission state reset")
}

func (c *Controller) decided(op Operation, address, identity string, d Decision) {
	if !d.Allowed {
		c.logger.Debug("Admission denied",
			zap.String("operation", string(op)),
			zap.String("address", address),
			zap.String("identity", identity),
			zap.String("kind", string(d.Kind)),
			zap.Duration("retry_after", d.RetryAfter),
		)
	}
	c.observer.Decided(op, address, identity, d)
}
