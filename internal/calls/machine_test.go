package calls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine() (*Machine, *time.Time) {
	now := time.Unix(1700000000, 0).UTC()
	m := NewMachine(nil)
	m.Now = func() time.Time { return now }
	return m, &now
}

func TestMachine_HappyPath(t *testing.T) {
	m, now := newTestMachine()
	var seen []Status
	m.Subscribe(func(prev, next CallState) { seen = append(seen, next.Status) })

	require.NoError(t, m.PlaceCall(Contact{ID: "c1", Phone: "+15551234567"}, "+12125550100", CallingModeBrowser, ""))
	m.Bind("CA1")
	assert.True(t, m.OnProviderEvent(ProviderEvent{CallSID: "CA1", Kind: EventRinging}))
	assert.True(t, m.OnProviderEvent(ProviderEvent{CallSID: "CA1", Kind: EventAnswered, AnsweredBy: "human"}))
	*now = now.Add(42 * time.Second)
	assert.True(t, m.OnProviderEvent(ProviderEvent{CallSID: "CA1", Kind: EventDisconnected}))

	st := m.State()
	assert.Equal(t, StatusEnded, st.Status)
	assert.Equal(t, "CA1", st.CallSID)
	assert.Equal(t, "human", st.AnsweredBy)
	assert.Equal(t, 42*time.Second, st.Duration)
	assert.Equal(t, []Status{StatusConnecting, StatusRinging, StatusActive, StatusEnded}, seen)
}

func TestMachine_PlaceCallOnlyFromIdle(t *testing.T) {
	m, _ := newTestMachine()
	require.NoError(t, m.PlaceCall(Contact{ID: "c1"}, "", CallingModePhone, ""))
	err := m.PlaceCall(Contact{ID: "c1"}, "", CallingModePhone, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMachine_HangUpRequiresLiveLeg(t *testing.T) {
	m, _ := newTestMachine()
	assert.ErrorIs(t, m.HangUp(), ErrInvalidTransition)

	require.NoError(t, m.PlaceCall(Contact{ID: "c1"}, "", CallingModePhone, ""))
	require.NoError(t, m.HangUp())
	assert.Equal(t, StatusEnded, m.State().Status)
	assert.ErrorIs(t, m.HangUp(), ErrInvalidTransition)
}

func TestMachine_ErrorFails(t *testing.T) {
	m, _ := newTestMachine()
	require.NoError(t, m.PlaceCall(Contact{ID: "c1"}, "", CallingModePhone, ""))
	assert.True(t, m.OnProviderEvent(ProviderEvent{Kind: EventError, Reason: "busy"}))
	st := m.State()
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "busy", st.EndReason)
}

func TestMachine_OutOfOrderEventsIgnored(t *testing.T) {
	m, _ := newTestMachine()
	notified := 0
	m.Subscribe(func(prev, next CallState) { notified++ })

	// nothing placed yet
	assert.False(t, m.OnProviderEvent(ProviderEvent{Kind: EventAnswered}))

	require.NoError(t, m.PlaceCall(Contact{ID: "c1"}, "", CallingModePhone, ""))
	require.True(t, m.OnProviderEvent(ProviderEvent{Kind: EventAnswered}))
	// ringing after answer is stale
	assert.False(t, m.OnProviderEvent(ProviderEvent{Kind: EventRinging}))
	require.True(t, m.OnProviderEvent(ProviderEvent{Kind: EventDisconnected}))
	// terminal
	assert.False(t, m.OnProviderEvent(ProviderEvent{Kind: EventDisconnected}))
	assert.False(t, m.OnProviderEvent(ProviderEvent{Kind: EventError}))

	assert.Equal(t, 3, notified)
	assert.Equal(t, StatusEnded, m.State().Status)
}

func TestMachine_MachineDetectionNormalized(t *testing.T) {
	m, _ := newTestMachine()
	require.NoError(t, m.PlaceCall(Contact{ID: "c1"}, "", CallingModePhone, "g1"))
	require.True(t, m.OnProviderEvent(ProviderEvent{Kind: EventAnswered, AnsweredBy: "machine_end_beep"}))
	st := m.State()
	assert.Equal(t, "machine", st.AnsweredBy)
	assert.Equal(t, "g1", st.ParallelGroupID)
}
