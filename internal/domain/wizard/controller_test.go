package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contactDraft struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Note  string `json:"note"`
	Flag  bool   `json:"flag"`
}

func (d *contactDraft) Set(key string, value any) error {
	if key == "flag" {
		b, ok := value.(bool)
		if !ok {
			return ErrFieldType
		}
		d.Flag = b
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return ErrFieldType
	}
	switch key {
	case "name":
		d.Name = s
	case "phone":
		d.Phone = s
	case "note":
		d.Note = s
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	return nil
}

func contactFlow(steps int) Flow[contactDraft] {
	flow := Flow[contactDraft]{
		Name: "contact",
		New:  func() contactDraft { return contactDraft{} },
		Normalize: func(d contactDraft) Payload {
			return Payload{"name": d.Name, "phone": d.Phone, "note": d.Note, "flag": d.Flag}
		},
	}
	flow.Steps = append(flow.Steps, Step[contactDraft]{
		Title:      "Identity",
		Fields:     []string{"name", "phone"},
		CanAdvance: func(d contactDraft) bool { return d.Name != "" && d.Phone != "" },
	})
	for i := 2; i <= steps; i++ {
		flow.Steps = append(flow.Steps, Step[contactDraft]{Title: fmt.Sprintf("Step %d", i), Fields: []string{"note"}})
	}
	return flow
}

type stubSubmitter struct {
	calls    atomic.Int32
	response json.RawMessage
	err      error
	release  chan struct{}
	entered  chan struct{}
	payloads []Payload
	mu       sync.Mutex
}

func (s *stubSubmitter) Submit(ctx context.Context, payload Payload) (json.RawMessage, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	return s.response, s.err
}

type messageErr struct{ msg string }

func (e *messageErr) Error() string       { return "backend: " + e.msg }
func (e *messageErr) UserMessage() string { return e.msg }

func newContact(t *testing.T, steps int, sub Submitter, opts ...Option) *Controller[contactDraft, *contactDraft] {
	t.Helper()
	c, err := New(contactFlow(steps), sub, opts...)
	require.NoError(t, err)
	return c
}

func fillIdentity(t *testing.T, c *Controller[contactDraft, *contactDraft]) {
	t.Helper()
	require.NoError(t, c.SetField("name", "Asha"))
	require.NoError(t, c.SetField("phone", "999"))
}

func TestNewValidatesFlow(t *testing.T) {
	sub := &stubSubmitter{}

	_, err := New(Flow[contactDraft]{Name: "empty"}, sub)
	assert.Error(t, err)

	flow := contactFlow(2)
	flow.Normalize = nil
	_, err = New(flow, sub)
	assert.Error(t, err)

	_, err = New(contactFlow(2), nil)
	assert.Error(t, err)
}

func TestRetreatAtFirstStepIsNoop(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		c := newContact(t, n, &stubSubmitter{})
		assert.False(t, c.Retreat(), "N=%d", n)
		assert.Equal(t, 1, c.Step())
		assert.Equal(t, PhaseEditing, c.Phase())
	}
}

func TestAdvanceAtLastStepIsNoop(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		c := newContact(t, n, &stubSubmitter{})
		fillIdentity(t, c)
		for i := 1; i < n; i++ {
			require.True(t, c.Advance())
		}
		require.Equal(t, n, c.Step())
		assert.False(t, c.Advance(), "N=%d", n)
		assert.Equal(t, n, c.Step())
		assert.False(t, c.CanAdvance())
	}
}

func TestAdvanceBlockedByPredicate(t *testing.T) {
	c := newContact(t, 3, &stubSubmitter{})

	require.NoError(t, c.SetField("phone", "999"))
	assert.False(t, c.CanAdvance())
	assert.False(t, c.Advance())
	assert.Equal(t, 1, c.Step())

	require.NoError(t, c.SetField("name", "Asha"))
	assert.True(t, c.CanAdvance())
	assert.True(t, c.Advance())
	assert.Equal(t, 2, c.Step())

	// steps without a predicate never block
	assert.True(t, c.CanAdvance())
}

func TestSetFieldKeepsStepAndPhase(t *testing.T) {
	c := newContact(t, 3, &stubSubmitter{})
	fillIdentity(t, c)
	require.True(t, c.Advance())

	require.NoError(t, c.SetField("note", "hello"))
	require.NoError(t, c.SetField("name", ""))
	assert.Equal(t, 2, c.Step())
	assert.Equal(t, PhaseEditing, c.Phase())
	assert.Equal(t, "hello", c.Draft().Note)
}

func TestSetFieldRejectsUnknownKeyAndBadType(t *testing.T) {
	c := newContact(t, 2, &stubSubmitter{})

	err := c.SetField("nope", "x")
	assert.ErrorIs(t, err, ErrUnknownField)

	err = c.SetField("flag", "yes")
	assert.ErrorIs(t, err, ErrFieldType)
	assert.False(t, c.Draft().Flag)
}

func TestSubmitOnlyFromLastStep(t *testing.T) {
	sub := &stubSubmitter{response: json.RawMessage(`{}`)}
	c := newContact(t, 2, sub)
	fillIdentity(t, c)

	assert.False(t, c.CanSubmit())
	err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNotSubmittable)
	assert.Equal(t, int32(0), sub.calls.Load())
	assert.Equal(t, PhaseEditing, c.Phase())
}

func TestSubmitSuccessResetsDraft(t *testing.T) {
	sub := &stubSubmitter{response: json.RawMessage(`{"id":1}`)}
	var got []json.RawMessage
	c := newContact(t, 2, sub, WithOnSuccess(func(resp json.RawMessage) { got = append(got, resp) }))
	fillIdentity(t, c)
	require.True(t, c.Advance())
	require.NoError(t, c.SetField("note", "n"))

	require.NoError(t, c.Submit(context.Background()))

	assert.Equal(t, PhaseSubmitted, c.Phase())
	assert.Equal(t, contactDraft{}, c.Draft())
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"id":1}`, string(got[0]))
	assert.Equal(t, Payload{"name": "Asha", "phone": "999", "note": "n", "flag": false}, sub.payloads[0])

	// terminal
	assert.ErrorIs(t, c.SetField("name", "x"), ErrNotEditable)
	assert.False(t, c.Retreat())
	assert.ErrorIs(t, c.Submit(context.Background()), ErrNotSubmittable)
	assert.Equal(t, int32(1), sub.calls.Load())
	assert.Len(t, got, 1)
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	sub := &stubSubmitter{err: &messageErr{msg: "Phone already registered"}}
	c := newContact(t, 2, sub)
	fillIdentity(t, c)
	require.True(t, c.Advance())
	require.NoError(t, c.SetField("note", "keep me"))
	before := c.Draft()

	err := c.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, PhaseFailed, c.Phase())
	assert.Equal(t, before, c.Draft())
	assert.Equal(t, "Phone already registered", c.LastError())
	assert.Equal(t, 2, c.Step())

	// Failed behaves like the final step
	assert.True(t, c.CanSubmit())
	assert.False(t, c.Advance())
	require.NoError(t, c.SetField("note", "fixed"))
	assert.Equal(t, PhaseFailed, c.Phase())

	sub.err = nil
	sub.response = json.RawMessage(`{"ok":true}`)
	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, PhaseSubmitted, c.Phase())
	assert.Equal(t, "fixed", sub.payloads[1]["note"])
}

func TestSubmitFailureFallbackMessage(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("dial tcp: connection refused")}
	c := newContact(t, 1, sub)
	fillIdentity(t, c)

	require.Error(t, c.Submit(context.Background()))
	assert.Equal(t, DefaultFailureMessage, c.LastError())

	flow := contactFlow(1)
	flow.FailureMessage = "Registration failed."
	c2, err := New(flow, sub)
	require.NoError(t, err)
	require.Error(t, c2.Submit(context.Background()))
	assert.Equal(t, "Registration failed.", c2.LastError())
}

func TestRetreatFromFailed(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("boom")}
	c := newContact(t, 2, sub)
	fillIdentity(t, c)
	require.True(t, c.Advance())
	require.Error(t, c.Submit(context.Background()))

	assert.True(t, c.Retreat())
	assert.Equal(t, 1, c.Step())
	assert.Equal(t, PhaseEditing, c.Phase())
	assert.Empty(t, c.LastError())
}

func TestDismissError(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("boom")}
	c := newContact(t, 1, sub)
	fillIdentity(t, c)
	require.Error(t, c.Submit(context.Background()))

	c.DismissError()
	assert.Equal(t, PhaseEditing, c.Phase())
	assert.Empty(t, c.LastError())
	assert.True(t, c.CanSubmit())
}

func TestDuplicateSubmitWhileInFlight(t *testing.T) {
	sub := &stubSubmitter{
		response: json.RawMessage(`{}`),
		release:  make(chan struct{}),
		entered:  make(chan struct{}, 1),
	}
	c := newContact(t, 1, sub)
	fillIdentity(t, c)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()

	select {
	case <-sub.entered:
	case <-time.After(time.Second):
		t.Fatal("submitter not reached")
	}

	assert.Equal(t, PhaseSubmitting, c.Phase())
	assert.ErrorIs(t, c.Submit(context.Background()), ErrSubmitInFlight)
	assert.ErrorIs(t, c.SetField("name", "x"), ErrNotEditable)
	assert.False(t, c.Cancel())

	close(sub.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), sub.calls.Load())
	assert.Equal(t, PhaseSubmitted, c.Phase())
}

func TestBeginSubmitLocksBeforeSend(t *testing.T) {
	sub := &stubSubmitter{response: json.RawMessage(`{}`)}
	c := newContact(t, 1, sub)
	fillIdentity(t, c)

	s, err := c.BeginSubmit()
	require.NoError(t, err)
	assert.Equal(t, PhaseSubmitting, c.Phase())
	assert.False(t, c.CanSubmit())

	_, err = c.BeginSubmit()
	assert.ErrorIs(t, err, ErrSubmitInFlight)
	assert.ErrorIs(t, c.Submit(context.Background()), ErrSubmitInFlight)
	assert.ErrorIs(t, c.SetField("name", "Other"), ErrNotEditable)
	assert.Zero(t, sub.calls.Load())

	require.NoError(t, s.Send(context.Background()))
	assert.ErrorIs(t, s.Send(context.Background()), ErrSubmissionUsed)
	s.Withdraw()

	assert.Equal(t, int32(1), sub.calls.Load())
	assert.Equal(t, "Asha", sub.payloads[0]["name"])
	assert.Equal(t, PhaseSubmitted, c.Phase())
}

func TestWithdrawRestoresPhase(t *testing.T) {
	sub := &stubSubmitter{err: &messageErr{msg: "Try later"}}
	c := newContact(t, 1, sub)
	fillIdentity(t, c)

	s, err := c.BeginSubmit()
	require.NoError(t, err)
	s.Withdraw()
	assert.Equal(t, PhaseEditing, c.Phase())
	assert.True(t, c.CanSubmit())
	assert.ErrorIs(t, s.Send(context.Background()), ErrSubmissionUsed)
	assert.Zero(t, sub.calls.Load())

	require.Error(t, c.Submit(context.Background()))
	require.Equal(t, PhaseFailed, c.Phase())

	s, err = c.BeginSubmit()
	require.NoError(t, err)
	s.Withdraw()
	assert.Equal(t, PhaseFailed, c.Phase())
	assert.Equal(t, "Try later", c.LastError())

	var types []EventType
	for _, e := range c.DrainChanges() {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, EventSubmitWithdrawn)
}

func TestSeedAndCancel(t *testing.T) {
	c := newContact(t, 2, &stubSubmitter{}, WithSeed(map[string]any{"name": "Meena"}))
	assert.Equal(t, "Meena", c.Draft().Name)

	assert.True(t, c.Cancel())
	assert.Equal(t, PhaseCancelled, c.Phase())
	assert.Equal(t, contactDraft{}, c.Draft())
	assert.False(t, c.Cancel())

	_, err := New(contactFlow(2), &stubSubmitter{}, WithSeed(map[string]any{"bogus": "x"}))
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestLifecycleEvents(t *testing.T) {
	sub := &stubSubmitter{response: json.RawMessage(`{}`)}
	c := newContact(t, 2, sub, WithID("4b1c6c1e-0000-0000-0000-000000000001"), WithActor(7))
	fillIdentity(t, c)
	require.True(t, c.Advance())
	require.True(t, c.Retreat())
	require.True(t, c.Advance())
	require.NoError(t, c.Submit(context.Background()))

	events := c.DrainChanges()
	var types []EventType
	for i, e := range events {
		types = append(types, e.EventType)
		assert.Equal(t, i+1, e.Version)
		assert.Equal(t, "4b1c6c1e-0000-0000-0000-000000000001", e.WizardID)
		assert.Equal(t, 7, e.ActorID)
	}
	assert.Equal(t, []EventType{
		EventWizardStarted, EventStepAdvanced, EventStepRetreated,
		EventStepAdvanced, EventSubmitStarted, EventWizardSubmitted,
	}, types)
	assert.True(t, events[len(events)-1].IsTerminal())
	assert.Empty(t, c.DrainChanges())
}

func TestView(t *testing.T) {
	c := newContact(t, 3, &stubSubmitter{})
	require.NoError(t, c.SetField("name", "Asha"))

	v := c.View()
	assert.Equal(t, "contact", v.Flow)
	assert.Equal(t, 1, v.Step)
	assert.Len(t, v.Steps, 3)
	assert.Equal(t, "Identity", v.Current().Title)
	assert.False(t, v.CanAdvance)
	assert.False(t, v.CanSubmit)
	assert.JSONEq(t, `{"name":"Asha","phone":"","note":"","flag":false}`, string(v.Draft))
}
