package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"hueplan/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps the whole dataset in memory and persists through two
// files next to cfg.Path:
//
//   - <prefix>.snapshot.json (full dump, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only, replayed over the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	data     map[string]map[string]json.RawMessage
	snapPath string
	journal  *os.File
	writes   int
	closed   bool
}

type journalRecord struct {
	Collection string          `json:"c"`
	Key        string          `json:"k,omitempty"`
	Value      json.RawMessage `json:"v,omitempty"`
	Delete     bool            `json:"del,omitempty"`
	// Clear drops the whole collection; an empty Collection drops all.
	Clear bool `json:"clear,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	data := map[string]map[string]json.RawMessage{}
	_ = loadSnapshot(snapPath, data)
	_ = replayJournal(journalPath, data)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, data: data, snapPath: snapPath, journal: jf}, nil
}

func (s *fileStore) Collection(ctx context.Context, name string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.data[name]; !ok {
		s.data[name] = map[string]json.RawMessage{}
	}
	return &fileCollection{store: s, name: name}, nil
}

func (s *fileStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data = map[string]map[string]json.RawMessage{}
	return s.appendLocked(journalRecord{Clear: true})
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.compactLocked(); err != nil {
		s.log.Debug("storage compact on close failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked rewrites the snapshot atomically and truncates the journal.
func (s *fileStore) compactLocked() error {
	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]map[string]json.RawMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]map[string]json.RawMessage
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for c, kv := range m {
		out[c] = kv
	}
	return nil
}

func replayJournal(path string, out map[string]map[string]json.RawMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn tail write is expected after a crash; stop here.
			break
		}
		switch {
		case r.Clear && r.Collection == "":
			for c := range out {
				delete(out, c)
			}
		case r.Clear:
			delete(out, r.Collection)
		case r.Delete:
			delete(out[r.Collection], r.Key)
		default:
			if _, ok := out[r.Collection]; !ok {
				out[r.Collection] = map[string]json.RawMessage{}
			}
			out[r.Collection][r.Key] = r.Value
		}
	}
	return sc.Err()
}

type fileCollection struct {
	store *fileStore
	name  string
}

func (c *fileCollection) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, ok := s.data[c.name]
	if !ok {
		m = map[string]json.RawMessage{}
		s.data[c.name] = m
	}
	m[key] = b
	return s.appendLocked(journalRecord{Collection: c.name, Key: key, Value: b})
}

func (c *fileCollection) Get(ctx context.Context, key string, out any) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	b, ok := s.data[c.name][key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(b, out)
}

func (c *fileCollection) Delete(ctx context.Context, key string) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.data[c.name], key)
	return s.appendLocked(journalRecord{Collection: c.name, Key: key, Delete: true})
}

func (c *fileCollection) Keys(ctx context.Context) ([]string, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	m := s.data[c.name]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *fileCollection) Clear(ctx context.Context) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[c.name] = map[string]json.RawMessage{}
	return s.appendLocked(journalRecord{Collection: c.name, Clear: true})
}
