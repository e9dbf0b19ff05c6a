// Package rtdb provides a key-path addressed tree store with live
// subscriptions, modelled after a hosted realtime database SDK. Values are
// JSON-shaped: branch nodes are map[string]any, leaves are strings, numbers,
// bools or nil. Every mutation to a path re-delivers the full current value
// at each subscribed ancestor or descendant path.
package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Store is the persistence and subscription boundary the chat core talks to.
type Store interface {
	// Get returns a deep copy of the value at path, nil if absent.
	Get(ctx context.Context, path string) (any, error)

	// Set replaces the whole subtree at path.
	Set(ctx context.Context, path string, value any) error

	// Update merges the given children into the node at path, leaving
	// siblings untouched. A nil child value deletes that child.
	Update(ctx context.Context, path string, children map[string]any) error

	// Delete removes the subtree at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// Push allocates a new unique, lexicographically ordered child key under
	// path without writing anything.
	Push(ctx context.Context, path string) (string, error)

	// Subscribe delivers the current value at path immediately and again on
	// every change at or below it. The returned func cancels the subscription.
	Subscribe(path string) (<-chan any, func())
}

// serverTimestamp is a sentinel resolved to the store's clock at write time,
// so disconnect hooks can record when the connection actually dropped.
type serverTimestamp struct{}

// ServerTimestamp may be used as a value in Set, Update and on-disconnect
// writes.
var ServerTimestamp = serverTimestamp{}

// Decode unmarshals a tree value into a typed struct, mirroring the
// snapshot-to-model conversion of realtime database client SDKs.
func Decode(value any, out any) error {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return nil
}

// Encode converts a typed value into the store's JSON-shaped representation.
func Encode(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return tree, nil
}

// ChildKeys returns the child keys of a branch node in ascending key order,
// which is the enumeration order subscriptions observe.
func ChildKeys(value any) []string {
	branch, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(branch))
	for k := range branch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child returns the named child of a branch node, nil if absent.
func Child(value any, key string) any {
	branch, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return branch[key]
}

// String reads a string leaf, returning fallback for nil or non-strings.
func String(value any, fallback string) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fallback
}

// Int reads a numeric leaf, returning fallback for nil or non-numbers.
func Int(value any, fallback int64) int64 {
	switch n := value.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return fallback
}

func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return parts, nil
}
