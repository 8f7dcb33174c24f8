package kairo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo"
)

func TestStreamEmitsEventsInExecutionOrder(t *testing.T) {
	g := classifierGraph(t)

	var types []kairo.EventType
	var nodes []string
	for ev := range g.Stream(context.Background(), kairo.NewState()) {
		types = append(types, ev.Type)
		nodes = append(nodes, ev.Node)
	}

	assert.Equal(t, []kairo.EventType{
		kairo.EventNodeStarted, kairo.EventNodeCompleted, kairo.EventEdgeTraversed,
		kairo.EventNodeStarted, kairo.EventNodeCompleted, kairo.EventEdgeTraversed,
		kairo.EventNodeStarted, kairo.EventNodeCompleted, kairo.EventGraphCompleted,
	}, types)
	assert.Equal(t, []string{
		"start", "start", "classify",
		"classify", "classify", "respond",
		"respond", "respond", "respond",
	}, nodes)
}

func TestStreamBreakStopsExecution(t *testing.T) {
	executions := 0
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("tick", func(_ context.Context, s kairo.State) (kairo.State, error) {
		executions++
		return s, nil
	}))
	b.AddConditionalEdge("tick", func(_ context.Context, _ kairo.State) string { return "tick" })
	require.NoError(t, b.SetEntryPoint("tick"))
	g, err := b.Compile()
	require.NoError(t, err)

	completed := 0
	for ev := range g.Stream(context.Background(), kairo.NewState(), kairo.WithMaxSteps(1000)) {
		if ev.Type == kairo.EventNodeCompleted {
			completed++
			if completed == 3 {
				break
			}
		}
	}

	// Breaking out of the loop stops the run; no further nodes execute.
	assert.Equal(t, 3, executions)
}

func TestStreamEventStatesAreSnapshots(t *testing.T) {
	g := classifierGraph(t)

	var snapshots []kairo.State
	for ev := range g.Stream(context.Background(), kairo.NewState()) {
		if ev.Type == kairo.EventNodeCompleted {
			snapshots = append(snapshots, ev.State)
		}
	}
	require.Len(t, snapshots, 3)

	// Mutating one snapshot must not bleed into another.
	snapshots[2].Values["intent"] = "tampered"
	assert.Equal(t, "question", snapshots[1].Values["intent"])
	assert.Equal(t, 1, snapshots[0].Step)
	assert.Equal(t, 3, snapshots[2].Step)
}

func TestStreamHandlerFailureEmitsNodeFailed(t *testing.T) {
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("burn", func(_ context.Context, s kairo.State) (kairo.State, error) {
		return s, assert.AnError
	}))
	require.NoError(t, b.SetEntryPoint("burn"))
	g, err := b.Compile()
	require.NoError(t, err)

	var last kairo.Event
	for ev := range g.Stream(context.Background(), kairo.NewState()) {
		last = ev
	}

	require.Equal(t, kairo.EventNodeFailed, last.Type)
	assert.Equal(t, "burn", last.Node)

	var nerr *kairo.NodeError
	require.ErrorAs(t, last.Err, &nerr)
	assert.ErrorIs(t, last.Err, assert.AnError)
}

func TestStreamDriverFailureEmitsGraphFailed(t *testing.T) {
	executions := 0
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("loop", func(_ context.Context, s kairo.State) (kairo.State, error) {
		executions++
		return s, nil
	}))
	b.AddConditionalEdge("loop", func(_ context.Context, _ kairo.State) string { return "loop" })
	require.NoError(t, b.SetEntryPoint("loop"))
	g, err := b.Compile()
	require.NoError(t, err)

	var last kairo.Event
	for ev := range g.Stream(context.Background(), kairo.NewState(), kairo.WithMaxSteps(2)) {
		last = ev
	}

	assert.Equal(t, 2, executions)
	require.Equal(t, kairo.EventGraphFailed, last.Type)
	assert.ErrorIs(t, last.Err, kairo.ErrMaxSteps)
}

func TestStreamCancellationEndsWithoutGraphCompleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("loop", func(_ context.Context, s kairo.State) (kairo.State, error) {
		cancel()
		return s, nil
	}))
	b.AddConditionalEdge("loop", func(_ context.Context, _ kairo.State) string { return "loop" })
	require.NoError(t, b.SetEntryPoint("loop"))
	g, err := b.Compile()
	require.NoError(t, err)

	var types []kairo.EventType
	for ev := range g.Stream(ctx, kairo.NewState()) {
		types = append(types, ev.Type)
	}

	assert.NotContains(t, types, kairo.EventGraphCompleted)
}

func TestStreamBadOptionsYieldSingleGraphFailed(t *testing.T) {
	g := classifierGraph(t)

	var events []kairo.Event
	for ev := range g.Stream(context.Background(), kairo.NewState(), kairo.WithMaxSteps(-1)) {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, kairo.EventGraphFailed, events[0].Type)
	assert.Error(t, events[0].Err)
}
