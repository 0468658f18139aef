package duration

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestJSONRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"1m30s"` {
		t.Errorf("Marshal = %s, want \"1m30s\"", data)
	}

	var parsed Duration
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed != d {
		t.Errorf("round trip = %v, want %v", parsed, d)
	}
}

func TestUnmarshalJSONNumeric(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte("5000000000"), &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if d.Duration() != 5*time.Second {
		t.Errorf("numeric unmarshal = %v, want 5s", d)
	}
}

func TestUnmarshalJSONInvalid(t *testing.T) {
	var d Duration
	err := json.Unmarshal([]byte(`"not-a-duration"`), &d)
	if err == nil {
		t.Fatal("expected error for invalid duration string")
	}
	if !strings.Contains(err.Error(), "not-a-duration") {
		t.Errorf("expected offending value in error, got %v", err)
	}

	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("expected error for non-duration JSON type")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	d := Duration(15 * time.Minute)

	data, err := yaml.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var parsed Duration
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed != d {
		t.Errorf("round trip = %v, want %v", parsed, d)
	}
}

func TestString(t *testing.T) {
	if got := Duration(time.Hour + 30*time.Minute).String(); got != "1h30m0s" {
		t.Errorf("String = %q, want 1h30m0s", got)
	}
}
