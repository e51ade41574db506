package normalize

import "testing"

func TestParamsSortsKeysRegardlessOfInputOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	sa, err := Params(a)
	if err != nil {
		t.Fatalf("Params(a): %v", err)
	}
	sb, err := Params(b)
	if err != nil {
		t.Fatalf("Params(b): %v", err)
	}
	if sa != sb {
		t.Fatalf("differently-ordered maps normalized differently: %q vs %q", sa, sb)
	}
	if sa != `{"a":2,"b":1,"c":3}` {
		t.Fatalf("Params = %q, want lexicographically sorted keys", sa)
	}
}

func TestParamsPreservesArrayOrder(t *testing.T) {
	s, err := Params(map[string]any{"paths": []any{"/b", "/a", "/c"}})
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if s != `{"paths":["/b","/a","/c"]}` {
		t.Fatalf("Params = %q, array order was not preserved", s)
	}
}

func TestParamsSortsNestedObjectKeys(t *testing.T) {
	s, err := Params(map[string]any{
		"outer": map[string]any{"z": 1, "y": 2},
	})
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if s != `{"outer":{"y":2,"z":1}}` {
		t.Fatalf("Params = %q, nested object keys were not sorted", s)
	}
}

func TestParamsSortsObjectsInsideArrays(t *testing.T) {
	s, err := Params(map[string]any{
		"items": []any{
			map[string]any{"b": 1, "a": 2},
		},
	})
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if s != `{"items":[{"a":2,"b":1}]}` {
		t.Fatalf("Params = %q, object inside array was not key-sorted", s)
	}
}

func TestParamsEmptyMap(t *testing.T) {
	s, err := Params(map[string]any{})
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if s != `{}` {
		t.Fatalf("Params(empty) = %q, want {}", s)
	}
}
