package track

import "testing"

func TestDecodeSignals(t *testing.T) {
	t.Parallel()

	if _, err := DecodeSignals([]byte(" ")); err == nil {
		t.Fatalf("expected error for empty body")
	}
	if _, err := DecodeSignals([]byte("[]")); err == nil {
		t.Fatalf("expected error for empty array")
	}

	sigs, err := DecodeSignals([]byte(`[{"type":"page_view"},{"type":"click"}]`))
	if err != nil {
		t.Fatalf("DecodeSignals(array): %v", err)
	}
	if len(sigs) != 2 || sigs[0].Type != TypePageView || sigs[1].Type != TypeClick {
		t.Fatalf("unexpected signals: %#v", sigs)
	}

	one, err := DecodeSignals([]byte(`{"type":"event","session_id":"s1"}`))
	if err != nil {
		t.Fatalf("DecodeSignals(object): %v", err)
	}
	if len(one) != 1 || one[0].SessionID != "s1" {
		t.Fatalf("unexpected signal: %#v", one)
	}

	if _, err := DecodeSignals([]byte(`{`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
