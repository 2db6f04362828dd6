package seen

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrMalformed is returned by JSONFile.Load when the file is valid JSON but
// not shaped like {"first_seen": {...}}.
var ErrMalformed = errors.New("malformed seen state")

// JSONFile stores the state as {"first_seen": {key: epoch_ms}} in one file.
type JSONFile struct {
	Path string
	Log  *slog.Logger
}

type jsonState struct {
	FirstSeen map[string]int64 `json:"first_seen"`
}

// NewJSONFile returns a backend writing to path.
func NewJSONFile(path string, log *slog.Logger) *JSONFile {
	if log == nil {
		log = slog.Default()
	}
	return &JSONFile{Path: path, Log: log}
}

// Describe implements Backend.
func (f *JSONFile) Describe() string { return f.Path }

// RewritesAll implements Rewriter: every Save writes the full state.
func (f *JSONFile) RewritesAll() bool { return true }

// Load implements Backend. Entries whose value is not an integer are dropped.
func (f *JSONFile) Load() (map[string]int64, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w: top level is not an object", f.Path, ErrMalformed)
	}
	entries, ok := top["first_seen"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w: first_seen is not an object", f.Path, ErrMalformed)
	}

	state := make(map[string]int64, len(entries))
	for k, v := range entries {
		n, ok := v.(json.Number)
		if !ok {
			f.Log.Warn("dropping seen entry with non-numeric timestamp", "key", k)
			continue
		}
		ms, err := n.Int64()
		if err != nil {
			fl, ferr := n.Float64()
			if ferr != nil {
				f.Log.Warn("dropping seen entry with invalid timestamp", "key", k, "value", n.String())
				continue
			}
			ms = int64(fl)
		}
		state[k] = ms
	}
	return state, nil
}

// Save implements Backend. The whole state is rewritten through a temporary
// file and a rename so a crash never leaves a torn file behind.
func (f *JSONFile) Save(snap Snapshot) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonState{FirstSeen: snap.FirstSeen}); err != nil {
		return fmt.Errorf("encode seen state: %w", err)
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	return f.atomicWrite(buf.Bytes())
}

func (f *JSONFile) atomicWrite(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			f.Log.Warn("failed to remove temporary file", "file", tmp.Name(), "err", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("could not write to temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("could not sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("could not rename temporary file: %w", err)
	}
	return nil
}
