package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JSONFile keeps every collection in its own <dir>/<collection>.json file,
// loaded lazily and rewritten on every mutation.
type JSONFile struct {
	dir string

	mu     sync.Mutex
	data   map[string]map[string]json.RawMessage
	closed bool
}

var _ Store = (*JSONFile)(nil)

// OpenJSONFile creates dir if needed and returns a file backed store.
func OpenJSONFile(dir string) (*JSONFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}
	return &JSONFile{dir: dir, data: make(map[string]map[string]json.RawMessage)}, nil
}

func (j *JSONFile) path(collection string) string {
	return filepath.Join(j.dir, collection+".json")
}

// collection returns the loaded collection. Caller holds j.mu.
func (j *JSONFile) collection(name string) (map[string]json.RawMessage, error) {
	if j.closed {
		return nil, ErrClosed
	}
	if c, ok := j.data[name]; ok {
		return c, nil
	}
	c := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(j.path(name))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	case len(raw) > 0:
		if err = json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	}
	j.data[name] = c
	return c, nil
}

// flush writes a collection through a temp file and rename. Caller holds j.mu.
func (j *JSONFile) flush(name string) error {
	out, err := json.MarshalIndent(j.data[name], "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(j.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), j.path(name))
}

func (j *JSONFile) Get(_ context.Context, collection, key string, out any) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, err := j.collection(collection)
	if err != nil {
		return false, err
	}
	raw, ok := c[key]
	if !ok {
		return false, nil
	}
	if err = json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode %s/%s: %w", collection, key, err)
	}
	return true, nil
}

func (j *JSONFile) Set(_ context.Context, collection, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	c, err := j.collection(collection)
	if err != nil {
		return err
	}
	c[key] = raw
	return j.flush(collection)
}

func (j *JSONFile) Increment(_ context.Context, collection, key, field string, delta float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, err := j.collection(collection)
	if err != nil {
		return err
	}
	doc := make(map[string]any)
	if raw, ok := c[key]; ok {
		if err = json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to decode %s/%s: %w", collection, key, err)
		}
	}
	var cur float64
	if v, ok := doc[field]; ok && v != nil {
		n, isNum := v.(float64)
		if !isNum {
			return fmt.Errorf("%s/%s.%s: %w", collection, key, field, ErrNotNumeric)
		}
		cur = n
	}
	doc[field] = cur + delta
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	c[key] = raw
	return j.flush(collection)
}

func (j *JSONFile) Delete(_ context.Context, collection, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, err := j.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := c[key]; !ok {
		return nil
	}
	delete(c, key)
	return j.flush(collection)
}

func (j *JSONFile) Scan(ctx context.Context, collection string, fn func(key string, decode Decoder) error) error {
	j.mu.Lock()
	c, err := j.collection(collection)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	keys := make([]string, 0, len(c))
	snapshot := make(map[string]json.RawMessage, len(c))
	for k, v := range c {
		keys = append(keys, k)
		snapshot[k] = v
	}
	j.mu.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err = ctx.Err(); err != nil {
			return err
		}
		raw := snapshot[k]
		if err = fn(k, func(out any) error { return json.Unmarshal(raw, out) }); err != nil {
			return err
		}
	}
	return nil
}

func (j *JSONFile) Close(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}
