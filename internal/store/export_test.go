package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rcliao/memtier/internal/model"
)

func TestEncodeDecodeIdempotent(t *testing.T) {
	first, err := EncodeState(sampleState("kubernetes"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	st, err := DecodeState(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	second, _ := EncodeState(st)
	if !bytes.Equal(first, second) {
		t.Errorf("re-encode differs:\n%s\n%s", first, second)
	}
}

func TestEncodeEmptyState(t *testing.T) {
	data, err := EncodeState(model.State{BudgetMax: 100})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Contains(data, []byte(`"items": []`)) || !bytes.Contains(data, []byte(`"archive": []`)) {
		t.Errorf("expected empty arrays, got %s", data)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	st := sampleState("kubernetes")
	st.Archive = st.Archive[1:] // s1 now covers a missing r0
	data, _ := EncodeState(st)
	_, err := DecodeState(data)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}
