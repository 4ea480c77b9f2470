package agent

import (
	"context"
	"errors"
	"testing"
)

func echoNode(content string) Node {
	return func(context.Context, State) (Update, error) {
		return Update{Messages: []Message{AssistantMessage(content)}, Usage: Usage{TotalTokens: 1}}, nil
	}
}

func TestGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("Compile", func(t *testing.T) {
		tests := []struct {
			name  string
			build func() *Graph
		}{
			{"no entry", func() *Graph { return NewGraph().AddNode("a", echoNode("x")).AddEdge("a", End) }},
			{"unknown entry", func() *Graph { return NewGraph().AddEdge(Start, "missing") }},
			{"dangling node", func() *Graph {
				return NewGraph().AddNode("a", echoNode("x")).AddNode("b", echoNode("y")).AddEdge(Start, "a").AddEdge("a", End)
			}},
			{"edge to unknown node", func() *Graph {
				return NewGraph().AddNode("a", echoNode("x")).AddEdge(Start, "a").AddEdge("a", "nowhere")
			}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := tt.build().Compile(nil, 0)
				if !errors.Is(err, ErrInvalidGraph) {
					t.Errorf("expected ErrInvalidGraph, got %v", err)
				}
			})
		}
	})

	t.Run("runs linear graph to end", func(t *testing.T) {
		g := NewGraph().
			AddNode("first", echoNode("one")).
			AddNode("second", echoNode("two")).
			AddEdge(Start, "first").
			AddEdge("first", "second").
			AddEdge("second", End)

		r, err := g.Compile(NewMemorySaver(), 5)
		if err != nil {
			t.Fatalf("unexpected compile error: %v", err)
		}

		state, err := r.Invoke(ctx, "thread", Input{Messages: []Message{UserMessage("hi")}, Model: "m"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(state.Messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(state.Messages))
		}
		if state.Last().Content != "two" {
			t.Errorf("expected last message 'two', got %q", state.Last().Content)
		}
		if state.Model != "m" {
			t.Errorf("expected model m, got %q", state.Model)
		}
		if state.Usage.TotalTokens != 2 {
			t.Errorf("expected 2 tokens, got %d", state.Usage.TotalTokens)
		}
	})

	t.Run("conditional edge loops until router ends", func(t *testing.T) {
		visits := 0
		g := NewGraph().
			AddNode("work", func(context.Context, State) (Update, error) {
				visits++
				return Update{Messages: []Message{AssistantMessage("step")}}, nil
			}).
			AddEdge(Start, "work").
			AddConditionalEdges("work", func(s State) string {
				if len(s.Messages) < 4 {
					return "work"
				}
				return End
			})

		r, err := g.Compile(nil, 10)
		if err != nil {
			t.Fatalf("unexpected compile error: %v", err)
		}
		if _, err := r.Invoke(ctx, "loop", Input{Messages: []Message{UserMessage("go")}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if visits != 3 {
			t.Errorf("expected 3 visits, got %d", visits)
		}
	})

	t.Run("step limit", func(t *testing.T) {
		saver := NewMemorySaver()
		g := NewGraph().
			AddNode("spin", echoNode("again")).
			AddEdge(Start, "spin").
			AddConditionalEdges("spin", func(State) string { return "spin" })

		r, err := g.Compile(saver, 3)
		if err != nil {
			t.Fatalf("unexpected compile error: %v", err)
		}

		state, err := r.Invoke(ctx, "spin", Input{Messages: []Message{UserMessage("go")}})
		if !errors.Is(err, ErrMaxSteps) {
			t.Fatalf("expected ErrMaxSteps, got %v", err)
		}
		if len(state.Messages) != 4 {
			t.Errorf("expected 4 messages after 3 steps, got %d", len(state.Messages))
		}

		if _, found, _ := saver.Load(ctx, "spin"); found {
			t.Error("expected no checkpoint after a failed run")
		}
	})

	t.Run("node error aborts without checkpoint", func(t *testing.T) {
		saver := NewMemorySaver()
		boom := errors.New("boom")
		g := NewGraph().
			AddNode("fail", func(context.Context, State) (Update, error) { return Update{}, boom }).
			AddEdge(Start, "fail").
			AddEdge("fail", End)

		r, _ := g.Compile(saver, 0)
		_, err := r.Invoke(ctx, "t", Input{Messages: []Message{UserMessage("x")}})
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if _, found, _ := saver.Load(ctx, "t"); found {
			t.Error("expected no checkpoint")
		}
	})

	t.Run("seed only on new thread", func(t *testing.T) {
		saver := NewMemorySaver()
		g := NewGraph().AddNode("reply", echoNode("pong")).AddEdge(Start, "reply").AddEdge("reply", End)
		r, _ := g.Compile(saver, 0)

		input := Input{Messages: []Message{UserMessage("ping")}, Seed: []Message{SystemMessage("rules")}}
		if _, err := r.Invoke(ctx, "chat", input); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		state, err := r.Invoke(ctx, "chat", input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		roles := make([]string, 0, len(state.Messages))
		for _, m := range state.Messages {
			roles = append(roles, m.Role)
		}
		expected := []string{RoleSystem, RoleUser, RoleAssistant, RoleUser, RoleAssistant}
		if len(roles) != len(expected) {
			t.Fatalf("expected roles %v, got %v", expected, roles)
		}
		for i := range expected {
			if roles[i] != expected[i] {
				t.Errorf("expected role %s at %d, got %s", expected[i], i, roles[i])
			}
		}

		stored, found, err := r.State(ctx, "chat")
		if err != nil || !found {
			t.Fatalf("expected stored state, got found=%v err=%v", found, err)
		}
		if len(stored.Messages) != 5 {
			t.Errorf("expected 5 stored messages, got %d", len(stored.Messages))
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		g := NewGraph().AddNode("reply", echoNode("pong")).AddEdge(Start, "reply").AddEdge("reply", End)
		r, _ := g.Compile(nil, 0)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := r.Invoke(cctx, "t", Input{}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRouteToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		last     Message
		expected string
	}{
		{"plain answer ends", AssistantMessage("done"), End},
		{"tool calls loop", Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "calculator"}}}, nodeTools},
		{"tool result ends", ToolMessage("1", "calculator", "3"), End},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := routeToolCalls(State{Messages: []Message{UserMessage("q"), tt.last}})
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
