package arbiter

import (
	"errors"
	"time"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
)

var (
	// ErrUnauthorized marks registry mutations from a caller that is not the
	// platform administrator.
	ErrUnauthorized = errors.New("arbiter: unauthorized caller")
	// ErrArbiterExists is returned when registering an identity that already
	// has a record, active or not. Deactivated arbiters are not re-armed
	// through registration.
	ErrArbiterExists = errors.New("arbiter: already registered")
	// ErrArbiterNotFound marks a missing registry record.
	ErrArbiterNotFound = errors.New("arbiter: not registered")
	// ErrArbiterInactive marks a registered arbiter that has been
	// deactivated and may no longer resolve disputes.
	ErrArbiterInactive = errors.New("arbiter: deactivated")

	errNilState = errors.New("arbiter registry: state not configured")
	errNilAdmin = errors.New("arbiter registry: admin view not configured")
)

// Record tracks an identity's authorization to resolve disputes. Records are
// soft-deleted: Remove flips Active, the audit trail stays.
type Record struct {
	Arbiter [20]byte
	AddedBy [20]byte
	AddedAt int64
	Active  bool
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// AdminView authorises registry mutations. Implemented by the fee store,
// which owns the platform admin identity.
type AdminView interface {
	IsAdmin(addr [20]byte) (bool, error)
}

func recordKey(arbiter [20]byte) []byte {
	return state.DeriveKey("arbiter", arbiter[:])
}

// Registry manages which identities may adjudicate disputes.
type Registry struct {
	state   registryState
	admin   AdminView
	emitter events.Emitter
	nowFn   func() int64
}

// NewRegistry constructs a registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(st registryState) { r.state = st }

// SetAdminView configures the authority consulted for mutations.
func (r *Registry) SetAdminView(view AdminView) { r.admin = view }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(arbiterEvent{evt: evt})
}

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) requireAdmin(caller [20]byte) error {
	if r.admin == nil {
		return errNilAdmin
	}
	ok, err := r.admin.IsAdmin(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// Add registers a new active arbiter. Admin only. Existing records, active or
// deactivated, are rejected.
func (r *Registry) Add(caller, arbiter [20]byte) (*Record, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}
	exists, err := r.state.KVGet(recordKey(arbiter), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrArbiterExists
	}
	record := &Record{
		Arbiter: arbiter,
		AddedBy: caller,
		AddedAt: r.now(),
		Active:  true,
	}
	if err := r.storeRecord(record); err != nil {
		return nil, err
	}
	r.emit(NewArbiterAddedEvent(record))
	return record.Clone(), nil
}

// Remove deactivates an arbiter. Admin only. The record is kept so the audit
// trail survives.
func (r *Registry) Remove(caller, arbiter [20]byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	record, err := r.loadRecord(arbiter)
	if err != nil {
		return err
	}
	record.Active = false
	if err := r.storeRecord(record); err != nil {
		return err
	}
	r.emit(NewArbiterRemovedEvent(record, caller))
	return nil
}

// Get loads the registry record for an identity, if present.
func (r *Registry) Get(arbiter [20]byte) (*Record, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	var stored storedRecord
	ok, err := r.state.KVGet(recordKey(arbiter), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.record(), true, nil
}

// EnsureActive returns nil only for a registered, active arbiter. Missing
// records fail ErrArbiterNotFound; deactivated ones fail ErrArbiterInactive.
func (r *Registry) EnsureActive(arbiter [20]byte) error {
	record, ok, err := r.Get(arbiter)
	if err != nil {
		return err
	}
	if !ok {
		return ErrArbiterNotFound
	}
	if !record.Active {
		return ErrArbiterInactive
	}
	return nil
}

func (r *Registry) loadRecord(arbiter [20]byte) (*Record, error) {
	record, ok, err := r.Get(arbiter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrArbiterNotFound
	}
	return record, nil
}

func (r *Registry) storeRecord(record *Record) error {
	return r.state.KVPut(recordKey(record.Arbiter), newStoredRecord(record))
}

// storedRecord is the RLP layout persisted under the arbiter key.
type storedRecord struct {
	Arbiter [20]byte
	AddedBy [20]byte
	AddedAt uint64
	Active  bool
}

func newStoredRecord(r *Record) *storedRecord {
	stored := &storedRecord{Arbiter: r.Arbiter, AddedBy: r.AddedBy, Active: r.Active}
	if r.AddedAt > 0 {
		stored.AddedAt = uint64(r.AddedAt)
	}
	return stored
}

func (s *storedRecord) record() *Record {
	return &Record{
		Arbiter: s.Arbiter,
		AddedBy: s.AddedBy,
		AddedAt: int64(s.AddedAt),
		Active:  s.Active,
	}
}
