package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *Executor {
	exec := NewExecutor(discardLogger())
	exec.Now = func() time.Time { return fixedNow }
	return exec
}

func TestExecutor_StepMergesAndRecords(t *testing.T) {
	exec := newTestExecutor()
	node := NodeFunc{NodeName: "n1", Fn: func(ctx context.Context, st State) (Update, Event, error) {
		return Update{Category: ptr("warranty")}, newEvent("did_something", EventInfo, nil), nil
	}}

	st, err := exec.Step(context.Background(), node, NewState("1", fixedNow))
	require.NoError(t, err)

	assert.Equal(t, "warranty", st.Category)
	assert.Equal(t, 1, st.Visits["n1"])
	assert.Equal(t, 1, st.Steps)
	require.Len(t, st.Events, 2)
	assert.Equal(t, "did_something", st.Events[1].Event)
	assert.Equal(t, fixedNow, st.Events[1].At)
}

func TestExecutor_ZeroEventNotRecorded(t *testing.T) {
	exec := newTestExecutor()
	node := NodeFunc{NodeName: "silent", Fn: func(ctx context.Context, st State) (Update, Event, error) {
		return Update{}, Event{}, nil
	}}

	st, err := exec.Step(context.Background(), node, NewState("1", fixedNow))
	require.NoError(t, err)
	assert.Len(t, st.Events, 1)
	assert.Equal(t, 1, st.Visits["silent"])
}

func TestExecutor_NodeSeesSnapshot(t *testing.T) {
	exec := newTestExecutor()
	node := NodeFunc{NodeName: "mutator", Fn: func(ctx context.Context, st State) (Update, Event, error) {
		// 直接修改入参不应影响调用方的状态
		st.Tags = append(st.Tags, "leaked")
		st.CustomerMetadata["leaked"] = "yes"
		return Update{}, Event{}, nil
	}}

	in := NewState("1", fixedNow)
	in.Tags = []string{"a"}
	out, err := exec.Step(context.Background(), node, in)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, in.Tags)
	assert.Equal(t, []string{"a"}, out.Tags)
	_, ok := out.CustomerMetadata["leaked"]
	assert.False(t, ok)
}

func TestExecutor_VisitLimit(t *testing.T) {
	exec := newTestExecutor()
	node := NodeFunc{NodeName: "loop", Fn: func(ctx context.Context, st State) (Update, Event, error) {
		return Update{}, Event{}, nil
	}}

	st := NewState("1", fixedNow)
	var err error
	for i := 0; i < MaxNodeVisits; i++ {
		st, err = exec.Step(context.Background(), node, st)
		require.NoError(t, err)
	}

	_, err = exec.Step(context.Background(), node, st)
	require.ErrorIs(t, err, ErrVisitLimit)
	assert.Equal(t, MaxNodeVisits, st.Visits["loop"])
}

func TestExecutor_StepLimit(t *testing.T) {
	exec := newTestExecutor()
	exec.MaxSteps = 3

	st := NewState("1", fixedNow)
	var err error
	for i := 0; i < 3; i++ {
		name := string(rune('a' + i))
		st, err = exec.Step(context.Background(), NodeFunc{NodeName: name, Fn: func(ctx context.Context, st State) (Update, Event, error) {
			return Update{}, Event{}, nil
		}}, st)
		require.NoError(t, err)
	}

	_, err = exec.Step(context.Background(), NodeFunc{NodeName: "d", Fn: func(ctx context.Context, st State) (Update, Event, error) {
		return Update{}, Event{}, nil
	}}, st)
	require.ErrorIs(t, err, ErrStepLimit)
}

func TestExecutor_RunLevelErrorLeavesStateUntouched(t *testing.T) {
	exec := newTestExecutor()
	node := NodeFunc{NodeName: "fetch", Fn: func(ctx context.Context, st State) (Update, Event, error) {
		return Update{Subject: ptr("x")}, Event{}, errBoom
	}}

	in := NewState("1", fixedNow)
	out, err := exec.Step(context.Background(), node, in)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, "", out.Subject)
	assert.Equal(t, 0, out.Steps)
}
