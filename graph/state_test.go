package graph

import "testing"

func TestMergeState(t *testing.T) {
	t.Run("delta values overwrite prev", func(t *testing.T) {
		prev := State{"a": 1, "b": "keep"}
		delta := State{"a": 2, "c": true}

		merged := MergeState(prev, delta)

		if merged["a"] != 2 {
			t.Errorf("expected delta to win for a, got %v", merged["a"])
		}
		if merged["b"] != "keep" {
			t.Errorf("expected prev value preserved for b, got %v", merged["b"])
		}
		if merged["c"] != true {
			t.Errorf("expected delta field c added, got %v", merged["c"])
		}
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		prev := State{"a": 1}
		delta := State{"a": 2}

		_ = MergeState(prev, delta)

		if prev["a"] != 1 {
			t.Errorf("prev mutated: %v", prev)
		}
		if delta["a"] != 2 {
			t.Errorf("delta mutated: %v", delta)
		}
	})

	t.Run("nil inputs", func(t *testing.T) {
		if merged := MergeState(nil, State{"a": 1}); merged["a"] != 1 {
			t.Errorf("merge with nil prev lost delta: %v", merged)
		}
		if merged := MergeState(State{"a": 1}, nil); merged["a"] != 1 {
			t.Errorf("merge with nil delta lost prev: %v", merged)
		}
	})

	t.Run("shallow merge replaces nested values wholesale", func(t *testing.T) {
		prev := State{"nested": map[string]any{"x": 1, "y": 2}}
		delta := State{"nested": map[string]any{"x": 9}}

		merged := MergeState(prev, delta)

		nested, ok := merged["nested"].(map[string]any)
		if !ok {
			t.Fatalf("nested value has wrong type: %T", merged["nested"])
		}
		if _, exists := nested["y"]; exists {
			t.Error("shallow merge must replace nested maps, not deep-merge them")
		}
	})
}

func TestMergeState_CustomMerge(t *testing.T) {
	// A caller needing append semantics supplies its own merge.
	type listState struct {
		Items []string
	}
	merge := func(prev, delta listState) listState {
		prev.Items = append(prev.Items, delta.Items...)
		return prev
	}

	merged := merge(listState{Items: []string{"a"}}, listState{Items: []string{"b"}})
	if len(merged.Items) != 2 {
		t.Errorf("custom merge should append, got %v", merged.Items)
	}
}
