package models

import (
	"testing"
)

func TestEventMetadata_ScanBytes(t *testing.T) {
	var m EventMetadata
	if err := m.Scan([]byte(`{"previous_ip":"10.0.0.1","attempts":3}`)); err != nil {
		t.Fatalf("Scan() = %v, want nil", err)
	}

	if m.String("previous_ip") != "10.0.0.1" {
		t.Errorf("expected previous_ip 10.0.0.1, got %v", m["previous_ip"])
	}
	if m["attempts"] != float64(3) {
		t.Errorf("expected attempts 3, got %v", m["attempts"])
	}
}

func TestEventMetadata_ScanString(t *testing.T) {
	var m EventMetadata
	if err := m.Scan(`{"ip":"::1"}`); err != nil {
		t.Fatalf("Scan() = %v, want nil", err)
	}
	if m.String("ip") != "::1" {
		t.Errorf("expected ip ::1, got %v", m["ip"])
	}
}

func TestEventMetadata_ScanNil(t *testing.T) {
	var m EventMetadata
	if err := m.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) = %v, want nil", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("expected empty metadata, got %v", m)
	}
}

func TestEventMetadata_ScanRejectsUnknownType(t *testing.T) {
	var m EventMetadata
	if err := m.Scan(42); err == nil {
		t.Error("expected error for integer source")
	}
}

func TestEventMetadata_ValueNilIsEmptyObject(t *testing.T) {
	var m EventMetadata
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value() = %v, want nil", err)
	}
	if string(v.([]byte)) != "{}" {
		t.Errorf("expected {}, got %s", v)
	}
}

func TestEventMetadata_StringMissingKey(t *testing.T) {
	m := EventMetadata{"count": 2}
	if got := m.String("count"); got != "" {
		t.Errorf("expected empty string for non-string value, got %q", got)
	}
	if got := m.String("absent"); got != "" {
		t.Errorf("expected empty string for missing key, got %q", got)
	}
}
