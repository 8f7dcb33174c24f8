package kairo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo"
)

// classifierGraph is the canonical three-node workflow: start feeds
// classify, which routes questions to respond and everything else to End.
func classifierGraph(t *testing.T) *kairo.CompiledGraph {
	t.Helper()
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("start", func(_ context.Context, s kairo.State) (kairo.State, error) {
		return s.AppendMessage("system", "session open"), nil
	}))
	require.NoError(t, b.AddNode("classify", func(_ context.Context, s kairo.State) (kairo.State, error) {
		s = s.Clone()
		s.Values["intent"] = "question"
		return s, nil
	}))
	require.NoError(t, b.AddNode("respond", func(_ context.Context, s kairo.State) (kairo.State, error) {
		return s.AppendMessage("assistant", "here is your answer"), nil
	}))
	require.NoError(t, b.AddEdge("start", "classify"))
	b.AddConditionalEdge("classify", func(_ context.Context, s kairo.State) string {
		if s.Values["intent"] == "question" {
			return "respond"
		}
		return kairo.End
	})
	require.NoError(t, b.SetEntryPoint("start"))
	require.NoError(t, b.AddExitPoint("respond"))

	g, err := b.Compile()
	require.NoError(t, err)
	return g
}

func TestInvokeRunsLinearWorkflow(t *testing.T) {
	g := classifierGraph(t)

	final, err := g.Invoke(context.Background(), kairo.NewState())
	require.NoError(t, err)

	assert.Equal(t, "respond", final.CurrentNode)
	assert.Equal(t, 3, final.Step)
	require.Len(t, final.Messages, 2)
	assert.Equal(t, "assistant", final.Messages[1].Role)
	assert.Equal(t, "question", final.Values["intent"])
}

func TestInvokeLeavesInitialStateUntouched(t *testing.T) {
	g := classifierGraph(t)

	initial := kairo.NewState()
	_, err := g.Invoke(context.Background(), initial)
	require.NoError(t, err)

	assert.Empty(t, initial.Messages)
	assert.Empty(t, initial.Values)
	assert.Zero(t, initial.Step)
}

func TestInvokeDeadEndIsImplicitExit(t *testing.T) {
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("only", noop))
	require.NoError(t, b.SetEntryPoint("only"))
	g, err := b.Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), kairo.NewState())
	require.NoError(t, err)
	assert.Equal(t, "only", final.CurrentNode)
	assert.Equal(t, 1, final.Step)
}

func TestInvokeOutgoingEdgesWinOverExitDeclaration(t *testing.T) {
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("a", noop))
	require.NoError(t, b.AddNode("b", noop))
	require.NoError(t, b.AddEdge("a", "b"))
	require.NoError(t, b.SetEntryPoint("a"))
	require.NoError(t, b.AddExitPoint("a"))
	g, err := b.Compile()
	require.NoError(t, err)

	// Routing consults edges before the exit declaration, so the run
	// follows a → b and terminates at b's dead end.
	final, err := g.Invoke(context.Background(), kairo.NewState())
	require.NoError(t, err)
	assert.Equal(t, "b", final.CurrentNode)
	assert.Equal(t, 2, final.Step)
}

func TestInvokeConditionalEdgesEvaluateInRegistrationOrder(t *testing.T) {
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("hub", noop))
	require.NoError(t, b.AddNode("first", noop))
	require.NoError(t, b.AddNode("second", noop))
	// The declining router runs first, then two contenders; registration
	// order decides the winner.
	b.AddConditionalEdge("hub", func(_ context.Context, _ kairo.State) string { return "" })
	b.AddConditionalEdge("hub", func(_ context.Context, _ kairo.State) string { return "first" })
	b.AddConditionalEdge("hub", func(_ context.Context, _ kairo.State) string { return "second" })
	require.NoError(t, b.SetEntryPoint("hub"))
	require.NoError(t, b.AddExitPoint("first"))
	require.NoError(t, b.AddExitPoint("second"))
	g, err := b.Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), kairo.NewState())
	require.NoError(t, err)
	assert.Equal(t, "first", final.CurrentNode)
}

func TestInvokeAllRoutersDeclineFallsBackToStaticEdge(t *testing.T) {
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("hub", noop))
	require.NoError(t, b.AddNode("fallback", noop))
	b.AddConditionalEdge("hub", func(_ context.Context, _ kairo.State) string { return "" })
	require.NoError(t, b.AddEdge("hub", "fallback"))
	require.NoError(t, b.SetEntryPoint("hub"))
	require.NoError(t, b.AddExitPoint("fallback"))
	g, err := b.Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), kairo.NewState())
	require.NoError(t, err)
	assert.Equal(t, "fallback", final.CurrentNode)
}

func TestInvokeMaxStepsFailsBeforeExtraNode(t *testing.T) {
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

	final, err := g.Invoke(context.Background(), kairo.NewState(), kairo.WithMaxSteps(5))
	require.ErrorIs(t, err, kairo.ErrMaxSteps)
	assert.Equal(t, 5, executions)
	assert.Equal(t, 5, final.Step)
}

func TestInvokeTimeoutBetweenSteps(t *testing.T) {
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("slow", func(_ context.Context, s kairo.State) (kairo.State, error) {
		time.Sleep(20 * time.Millisecond)
		return s, nil
	}))
	b.AddConditionalEdge("slow", func(_ context.Context, _ kairo.State) string { return "slow" })
	require.NoError(t, b.SetEntryPoint("slow"))
	g, err := b.Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), kairo.NewState(), kairo.WithTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, kairo.ErrTimeout)
	// The in-flight node finished; the budget check caught the overrun after.
	assert.Equal(t, 1, final.Step)
}

func TestInvokeHandlerFailureReturnsNodeError(t *testing.T) {
	boom := errors.New("model unavailable")
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("fetch", noop))
	require.NoError(t, b.AddNode("burn", func(_ context.Context, s kairo.State) (kairo.State, error) {
		return s, boom
	}))
	require.NoError(t, b.AddEdge("fetch", "burn"))
	require.NoError(t, b.SetEntryPoint("fetch"))
	require.NoError(t, b.AddExitPoint("burn"))
	g, err := b.Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), kairo.NewState())
	require.Error(t, err)

	var nerr *kairo.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "burn", nerr.Node)
	assert.ErrorIs(t, err, boom)
	// Last successful state: only fetch completed.
	assert.Equal(t, "fetch", final.CurrentNode)
	assert.Equal(t, 1, final.Step)
}

func TestInvokeStopsOnCancelledContext(t *testing.T) {
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

	final, err := g.Invoke(ctx, kairo.NewState())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, final.Step)
}

func TestInvokeRejectsBadOptions(t *testing.T) {
	g := classifierGraph(t)

	_, err := g.Invoke(context.Background(), kairo.NewState(), kairo.WithMaxSteps(0))
	require.ErrorIs(t, err, kairo.ErrInvalidOptions)

	_, err = g.Invoke(context.Background(), kairo.NewState(), kairo.WithTimeout(-time.Second))
	require.ErrorIs(t, err, kairo.ErrInvalidOptions)
}

func TestHandlerContextCarriesNodeAndStep(t *testing.T) {
	b := kairo.NewBuilder()
	require.NoError(t, b.AddNode("first", func(ctx context.Context, s kairo.State) (kairo.State, error) {
		node, ok := kairo.NodeFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "first", node)
		step, ok := kairo.StepFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, 0, step)
		return s, nil
	}))
	require.NoError(t, b.AddNode("second", func(ctx context.Context, s kairo.State) (kairo.State, error) {
		node, _ := kairo.NodeFromContext(ctx)
		assert.Equal(t, "second", node)
		step, _ := kairo.StepFromContext(ctx)
		assert.Equal(t, 1, step)
		return s, nil
	}))
	require.NoError(t, b.AddEdge("first", "second"))
	require.NoError(t, b.SetEntryPoint("first"))
	require.NoError(t, b.AddExitPoint("second"))
	g, err := b.Compile()
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), kairo.NewState())
	require.NoError(t, err)

	_, ok := kairo.NodeFromContext(context.Background())
	assert.False(t, ok)
}

func TestInvokeConcurrentRunsShareOneGraph(t *testing.T) {
	g := classifierGraph(t)

	done := make(chan error, 8)
	for range 8 {
		go func() {
			final, err := g.Invoke(context.Background(), kairo.NewState())
			if err == nil && final.CurrentNode != "respond" {
				err = errors.New("run ended at " + final.CurrentNode)
			}
			done <- err
		}()
	}
	for range 8 {
		require.NoError(t, <-done)
	}
}
