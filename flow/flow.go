// Package flow implements the hub's generic multi-step flow engine. A flow
// is a single-use exchange: it is started against a Handler, survives any
// number of form round trips, and retires on its first terminal result.
// In-progress flows live in a TTL- and capacity-bounded registry keyed by
// unguessable ids, so an abandoned flow never outlives its lifetime bound.
package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// ErrUnknownFlow reports an operation on a flow id that does not exist, has
// finished, or has expired.
var ErrUnknownFlow = errors.New("unknown or finished flow")

// StepInit is the step id every flow starts at.
const StepInit = "init"

// Default bounds for in-progress flows.
const (
	DefaultTTL      = 10 * time.Minute
	DefaultCapacity = 1024
)

// ResultType classifies a step outcome.
type ResultType string

const (
	// TypeForm asks the caller for (more) input described by Schema.
	TypeForm ResultType = "form"
	// TypeCreateEntry ends the flow successfully; Data carries the payload.
	TypeCreateEntry ResultType = "create_entry"
	// TypeAbort ends the flow unsuccessfully with a Reason code.
	TypeAbort ResultType = "abort"
)

// Result is the outcome of one step, handed back from Start and Configure.
// The engine treats Schema and Data as opaque.
type Result struct {
	FlowID string            `json:"flow_id"`
	Type   ResultType        `json:"type"`
	StepID string            `json:"step_id,omitempty"`
	Schema any               `json:"schema,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Data   any               `json:"-"`
}

// Handler drives the steps of one flow. Step receives the current step id
// (StepInit on the first call) and the submitted input, nil on the first
// call. A TypeForm result keeps the flow alive at Result.StepID; any other
// type ends it.
type Handler interface {
	Step(ctx context.Context, stepID string, input map[string]string) (Result, error)
}

type state struct {
	mu      sync.Mutex
	handler Handler
	stepID  string
	done    bool
}

type options struct {
	ttl      time.Duration
	capacity uint64
	newID    func() string
}

// Option configures a Registry.
type Option func(*options)

// WithTTL bounds the lifetime of an in-progress flow.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithCapacity bounds how many flows may be in progress at once; the oldest
// is evicted beyond it.
func WithCapacity(n uint64) Option {
	return func(o *options) { o.capacity = n }
}

// WithIDGenerator overrides flow id generation, for tests.
func WithIDGenerator(f func() string) Option {
	return func(o *options) { o.newID = f }
}

// Registry owns every in-progress flow.
type Registry struct {
	flows *ttlcache.Cache[string, *state]
	newID func() string
}

// NewRegistry creates a Registry and starts its expiry loop. Call Close
// when done with it.
func NewRegistry(opts ...Option) *Registry {
	o := options{ttl: DefaultTTL, capacity: DefaultCapacity, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}

	flows := ttlcache.New(
		ttlcache.WithTTL[string, *state](o.ttl),
		ttlcache.WithDisableTouchOnHit[string, *state](),
		ttlcache.WithCapacity[string, *state](o.capacity),
	)
	go flows.Start()

	return &Registry{flows: flows, newID: o.newID}
}

// Start registers a flow driven by h and runs its first step. The flow id
// is embedded in the returned Result; if the first step is already
// terminal the flow is retired before returning.
func (r *Registry) Start(ctx context.Context, h Handler) (Result, error) {
	id := r.newID()
	st := &state{handler: h, stepID: StepInit}
	r.flows.Set(id, st, ttlcache.DefaultTTL)
	return r.step(ctx, id, st, nil)
}

// Configure feeds input to an in-progress flow. It fails with
// ErrUnknownFlow when the id is unknown, already terminal, or expired;
// existing flow state is never affected by such a call.
func (r *Registry) Configure(ctx context.Context, flowID string, input map[string]string) (Result, error) {
	item := r.flows.Get(flowID)
	if item == nil {
		return Result{}, ErrUnknownFlow
	}
	return r.step(ctx, flowID, item.Value(), input)
}

// step serializes progress on one flow and retires it on a terminal result
// or a handler error.
func (r *Registry) step(ctx context.Context, id string, st *state, input map[string]string) (Result, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return Result{}, ErrUnknownFlow
	}

	res, err := st.handler.Step(ctx, st.stepID, input)
	if err != nil {
		st.done = true
		r.flows.Delete(id)
		return Result{}, err
	}

	res.FlowID = id
	if res.Type == TypeForm {
		if res.StepID == "" {
			res.StepID = st.stepID
		}
		st.stepID = res.StepID
	} else {
		st.done = true
		r.flows.Delete(id)
	}
	return res, nil
}

// Abandon drops an in-progress flow without completing it. Abandoning an
// unknown flow is a no-op.
func (r *Registry) Abandon(flowID string) {
	item := r.flows.Get(flowID)
	if item == nil {
		return
	}
	st := item.Value()
	st.mu.Lock()
	st.done = true
	st.mu.Unlock()
	r.flows.Delete(flowID)
}

// Len reports how many flows are in progress.
func (r *Registry) Len() int {
	return r.flows.Len()
}

// Close stops the expiry loop.
func (r *Registry) Close() {
	r.flows.Stop()
}
