package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Store used in tests and container-free local runs.
type Memory struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	lists   map[string][]string
	strings map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		strings: make(map[string]string),
	}
}

func (m *Memory) hash(key string) map[string]string {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	return h
}

// HIncrBy implements Store.
func (m *Memory) HIncrBy(_ context.Context, key, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(key)
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	h[field] = strconv.FormatInt(cur+delta, 10)
	return nil
}

// HIncrByFloat implements Store.
func (m *Memory) HIncrByFloat(_ context.Context, key, field string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(key)
	cur, _ := strconv.ParseFloat(h[field], 64)
	h[field] = strconv.FormatFloat(cur+delta, 'g', -1, 64)
	return nil
}

// HSet implements Store.
func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(key)
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

// HGetAll implements Store.
func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

// RPushCapped implements Store.
func (m *Memory) RPushCapped(_ context.Context, key string, max int64, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.lists[key], values...)
	if int64(len(list)) > max {
		list = list[int64(len(list))-max:]
	}
	m.lists[key] = list
	return nil
}

// LRange implements Store.
func (m *Memory) LRange(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lists[key]))
	copy(out, m.lists[key])
	return out, nil
}

// ScanKeys implements Store.
func (m *Memory) ScanKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range m.lists {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range m.strings {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
			continue
		}
		if _, ok := m.lists[k]; ok {
			delete(m.lists, k)
			n++
			continue
		}
		if _, ok := m.strings[k]; ok {
			delete(m.strings, k)
			n++
		}
	}
	return n, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strings[key], nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	return nil
}
