package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// EncodeChange serializes a change for the feed and the outbox.
func EncodeChange(c Change) ([]byte, error) {
	return sonic.Marshal(c)
}

// DecodeChange parses and validates a change payload.
func DecodeChange(data []byte) (Change, error) {
	var c Change
	if err := sonic.Unmarshal(data, &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Change{}, err
	}
	return c, nil
}
