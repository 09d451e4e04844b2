package json

import (
	stdjson "encoding/json"
	"strings"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
	}{
		{
			name: "flat tree",
			data: map[string]interface{}{
				"debug":   true,
				"timeout": float64(30),
				"name":    "arca",
			},
		},
		{
			name: "nested tree",
			data: map[string]interface{}{
				"database": map[string]interface{}{
					"host": "localhost",
					"pool": map[string]interface{}{"size": float64(10)},
				},
				"features": []interface{}{"a", "b"},
			},
		},
		{
			name: "empty tree",
			data: map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Marshal(tt.data)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}

			var decoded map[string]interface{}
			if err := Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}

			// Compare through the standard library for a codec-neutral check
			want, _ := stdjson.Marshal(tt.data)
			got, _ := stdjson.Marshal(decoded)
			if string(want) != string(got) {
				t.Errorf("round trip mismatch: want %s, got %s", want, got)
			}
		})
	}
}

func TestMarshalIndent(t *testing.T) {
	data := map[string]interface{}{
		"app": map[string]interface{}{"name": "X"},
	}

	raw, err := MarshalIndent(data, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	out := string(raw)
	if !strings.Contains(out, "\n") {
		t.Errorf("expected multi-line output, got %q", out)
	}
	if !strings.Contains(out, `  "app"`) {
		t.Errorf("expected two-space indent, got %q", out)
	}

	var decoded map[string]interface{}
	if err := Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("indented output did not decode: %v", err)
	}
}

func TestUnmarshalInvalidInput(t *testing.T) {
	var v map[string]interface{}
	if err := Unmarshal([]byte(`{"broken":`), &v); err == nil {
		t.Error("expected error for truncated JSON")
	}
	if err := Unmarshal([]byte(`not json at all`), &v); err == nil {
		t.Error("expected error for non-JSON input")
	}
}

func TestIsUsingSonic(t *testing.T) {
	// Just exercise the accessor; the value depends on GOARCH.
	_ = IsUsingSonic()
}
