package store

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/memtier/internal/model"
)

// EncodeState renders st as indented JSON. Equal states encode to equal bytes.
func EncodeState(st model.State) ([]byte, error) {
	if st.Items == nil {
		st.Items = []model.Item{}
	}
	if st.Archive == nil {
		st.Archive = []model.ArchiveEntry{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// DecodeState parses and validates an encoded state.
func DecodeState(data []byte) (model.State, error) {
	var st model.State
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return st, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}
