// Package wizard implements the step wizard controller: a bounded linear
// sequence of input steps over one typed draft, gated by per-step admission
// predicates, ending in a single submission.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is the coarse state of a wizard. While editing, the step pointer
// carries the rest of the state.
type Phase string

const (
	PhaseEditing    Phase = "editing"
	PhaseSubmitting Phase = "submitting"
	PhaseSubmitted  Phase = "submitted"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrFieldType      = errors.New("invalid value for field")
	ErrNotEditable    = errors.New("draft is not editable")
	ErrNotSubmittable = errors.New("submit is only available on the final step")
	ErrSubmitInFlight = errors.New("submission already in progress")
	ErrSubmissionUsed = errors.New("submission was already sent or withdrawn")
)

// DefaultFailureMessage is shown when the submitter gives no usable message.
const DefaultFailureMessage = "Submission failed. Please try again."

// Payload is the normalized draft handed to a Submitter.
type Payload map[string]any

// Submitter persists a finished draft and returns the server's response.
// The response is opaque to the controller.
type Submitter interface {
	Submit(ctx context.Context, payload Payload) (json.RawMessage, error)
}

// SubmitFunc adapts a function to the Submitter interface
type SubmitFunc func(ctx context.Context, payload Payload) (json.RawMessage, error)

// Submit calls f(ctx, payload)
func (f SubmitFunc) Submit(ctx context.Context, payload Payload) (json.RawMessage, error) {
	return f(ctx, payload)
}

// Predicate decides whether forward navigation from a step is permitted.
type Predicate[T any] func(draft T) bool

// Step describes one screen of a flow.
type Step[T any] struct {
	Title  string
	Fields []string
	// CanAdvance is nil for steps that never block.
	CanAdvance Predicate[T]
}

// Flow describes a wizard variant: its steps, its draft defaults and how a
// draft is normalized for submission.
type Flow[T any] struct {
	Name           string
	Steps          []Step[T]
	New            func() T
	Normalize      func(draft T) Payload
	FailureMessage string
}

// Draft is the constraint for draft types: a pointer to the draft struct
// that can assign one field by key.
type Draft[T any] interface {
	*T
	Set(key string, value any) error
}

type options struct {
	id        string
	logger    *zap.Logger
	onSuccess func(json.RawMessage)
	seed      map[string]any
	actorID   int
}

// Option configures a Controller
type Option func(*options)

// WithID sets the wizard ID instead of a generated one
func WithID(id string) Option { return func(o *options) { o.id = id } }

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

// WithOnSuccess registers the callback invoked once with the server response.
func WithOnSuccess(fn func(json.RawMessage)) Option { return func(o *options) { o.onSuccess = fn } }

// WithSeed pre-fills the draft from a partially known profile.
func WithSeed(seed map[string]any) Option { return func(o *options) { o.seed = seed } }

// WithActor records the acting user on lifecycle events
func WithActor(userID int) Option { return func(o *options) { o.actorID = userID } }

// Controller drives one wizard session.
type Controller[T any, P Draft[T]] struct {
	mu        sync.Mutex
	id        string
	flow      Flow[T]
	submitter Submitter
	onSuccess func(json.RawMessage)
	logger    *zap.Logger
	actorID   int

	draft     T
	step      int
	phase     Phase
	lastError string
	response  json.RawMessage
	version   int
	createdAt time.Time
	updatedAt time.Time
	changes   []*Event
}

// New creates a controller positioned at step 1 with a default (optionally
// seeded) draft.
func New[T any, P Draft[T]](flow Flow[T], submitter Submitter, opts ...Option) (*Controller[T, P], error) {
	if len(flow.Steps) == 0 {
		return nil, errors.New("flow has no steps")
	}
	if flow.New == nil || flow.Normalize == nil {
		return nil, errors.New("flow requires New and Normalize")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.New().String()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Controller[T, P]{
		id:        o.id,
		flow:      flow,
		submitter: submitter,
		onSuccess: o.onSuccess,
		logger:    o.logger,
		actorID:   o.actorID,
		draft:     flow.New(),
		step:      1,
		phase:     PhaseEditing,
		createdAt: time.Now().UTC(),
		updatedAt: time.Now().UTC(),
	}

	for key, value := range o.seed {
		if err := P(&c.draft).Set(key, value); err != nil {
			return nil, fmt.Errorf("seed %q: %w", key, err)
		}
	}

	c.record(EventWizardStarted, "")
	return c, nil
}

// ID returns the wizard ID
func (c *Controller[T, P]) ID() string { return c.id }

// FlowName returns the flow variant name
func (c *Controller[T, P]) FlowName() string { return c.flow.Name }

// Steps returns N, the number of steps
func (c *Controller[T, P]) Steps() int { return len(c.flow.Steps) }

// Step returns the current step (1-based)
func (c *Controller[T, P]) Step() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Phase returns the current phase
func (c *Controller[T, P]) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Draft returns a copy of the draft
func (c *Controller[T, P]) Draft() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// LastError returns the message of the last failed submission
func (c *Controller[T, P]) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Response returns the server response of a successful submission
func (c *Controller[T, P]) Response() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

// CanAdvance evaluates the current step's admission predicate. It is false
// on the last step and outside the editing phase.
func (c *Controller[T, P]) CanAdvance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAdvance()
}

func (c *Controller[T, P]) canAdvance() bool {
	if c.phase != PhaseEditing || c.step >= len(c.flow.Steps) {
		return false
	}
	return c.admits(c.step)
}

func (c *Controller[T, P]) admits(step int) bool {
	pred := c.flow.Steps[step-1].CanAdvance
	return pred == nil || pred(c.draft)
}

// CanSubmit reports whether Submit would start a submission.
func (c *Controller[T, P]) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmit()
}

func (c *Controller[T, P]) canSubmit() bool {
	switch c.phase {
	case PhaseFailed:
		return true
	case PhaseEditing:
		return c.step == len(c.flow.Steps)
	default:
		return false
	}
}

func (c *Controller[T, P]) editable() bool {
	return c.phase == PhaseEditing || c.phase == PhaseFailed
}

// SetField updates exactly one draft key. It never moves the step or
// changes the phase. Outside the editable phases it returns ErrNotEditable
// and leaves the draft untouched.
func (c *Controller[T, P]) SetField(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.editable() {
		return ErrNotEditable
	}

	next := c.draft
	if err := P(&next).Set(key, value); err != nil {
		return err
	}
	c.draft = next
	c.updatedAt = time.Now().UTC()
	return nil
}

// Advance moves to the next step when the current step's predicate holds.
// It reports whether the step changed.
func (c *Controller[T, P]) Advance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.canAdvance() {
		return false
	}
	c.step++
	c.record(EventStepAdvanced, "")
	return true
}

// Retreat moves back one step. From Failed it returns to editing the
// previous step. It reports whether the step changed.
func (c *Controller[T, P]) Retreat() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.editable() || c.step <= 1 {
		return false
	}
	c.step--
	c.phase = PhaseEditing
	c.lastError = ""
	c.record(EventStepRetreated, "")
	return true
}

// DismissError clears a failure message, returning Failed to editing the
// final step.
func (c *Controller[T, P]) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseFailed {
		c.phase = PhaseEditing
		c.lastError = ""
	}
}

// Cancel discards the draft and closes the wizard. An in-flight submission
// cannot be cancelled.
func (c *Controller[T, P]) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.editable() {
		return false
	}
	c.draft = c.flow.New()
	c.phase = PhaseCancelled
	c.lastError = ""
	c.record(EventWizardCancelled, "")
	return true
}

// Submit normalizes the draft and hands it to the submitter. It is legal
// only on the final step or after a failed attempt; a call while a
// submission is outstanding returns ErrSubmitInFlight without reaching the
// submitter. On success the draft is reset and the OnSuccess callback runs
// once. On failure the draft is kept as it was.
func (c *Controller[T, P]) Submit(ctx context.Context) error {
	s, err := c.BeginSubmit()
	if err != nil {
		return err
	}
	return s.Send(ctx)
}

// BeginSubmit moves the wizard to Submitting and freezes the payload
// without calling the submitter. The returned Submission must be either
// sent or withdrawn. Until then the draft is not editable and further
// submits fail with ErrSubmitInFlight.
func (c *Controller[T, P]) BeginSubmit() (*Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseSubmitting {
		return nil, ErrSubmitInFlight
	}
	if !c.canSubmit() {
		return nil, ErrNotSubmittable
	}

	payload := c.flow.Normalize(c.draft)
	prevPhase, prevError := c.phase, c.lastError
	c.phase = PhaseSubmitting
	c.lastError = ""
	c.record(EventSubmitStarted, "")

	return &Submission{
		send:     func(ctx context.Context) error { return c.send(ctx, payload) },
		withdraw: func() { c.withdraw(prevPhase, prevError) },
	}, nil
}

func (c *Controller[T, P]) send(ctx context.Context, payload Payload) error {
	started := time.Now()
	resp, err := c.submitter.Submit(ctx, payload)

	c.mu.Lock()
	if err != nil {
		c.phase = PhaseFailed
		c.lastError = UserMessage(err, c.flow.FailureMessage)
		c.record(EventSubmitFailed, c.lastError)
		c.mu.Unlock()

		c.logger.Warn("wizard submission failed",
			zap.String("wizard_id", c.id),
			zap.String("flow", c.flow.Name),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err))
		return fmt.Errorf("submit %s: %w", c.flow.Name, err)
	}

	c.phase = PhaseSubmitted
	c.draft = c.flow.New()
	c.response = resp
	c.record(EventWizardSubmitted, fmt.Sprintf("%d bytes", len(resp)))
	onSuccess := c.onSuccess
	c.mu.Unlock()

	c.logger.Info("wizard submitted",
		zap.String("wizard_id", c.id),
		zap.String("flow", c.flow.Name),
		zap.Duration("duration", time.Since(started)))

	if onSuccess != nil {
		onSuccess(resp)
	}
	return nil
}

func (c *Controller[T, P]) withdraw(phase Phase, lastError string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseSubmitting {
		return
	}
	c.phase = phase
	c.lastError = lastError
	c.record(EventSubmitWithdrawn, "")
}

// Submission is a submission that has been started but not sent. Only the
// first call to Send or Withdraw takes effect.
type Submission struct {
	send     func(ctx context.Context) error
	withdraw func()

	mu   sync.Mutex
	used bool
}

func (s *Submission) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used {
		return false
	}
	s.used = true
	return true
}

// Send calls the submitter with the frozen payload. A second call returns
// ErrSubmissionUsed.
func (s *Submission) Send(ctx context.Context) error {
	if !s.claim() {
		return ErrSubmissionUsed
	}
	return s.send(ctx)
}

// Withdraw returns the wizard to the phase it had before BeginSubmit.
func (s *Submission) Withdraw() {
	if s.claim() {
		s.withdraw()
	}
}

// DrainChanges returns and clears the uncommitted lifecycle events
func (c *Controller[T, P]) DrainChanges() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := c.changes
	c.changes = nil
	return changes
}

// record appends a lifecycle event; callers hold mu.
func (c *Controller[T, P]) record(eventType EventType, detail string) {
	c.version++
	event := NewEvent(c.id, c.flow.Name, eventType, c.step).WithDetail(detail)
	event.Version = c.version
	event.ActorID = c.actorID
	c.updatedAt = event.Timestamp
	c.changes = append(c.changes, event)
}

// UserMessage extracts a displayable message from a submission error,
// falling back to fallback (or DefaultFailureMessage when empty).
func UserMessage(err error, fallback string) string {
	var m interface{ UserMessage() string }
	if errors.As(err, &m) {
		if msg := m.UserMessage(); msg != "" {
			return msg
		}
	}
	if fallback == "" {
		return DefaultFailureMessage
	}
	return fallback
}
