package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "crongen/pkg/logx"
)

// fileStore appends messages to <prefix>.messages.jsonl and keeps a bounded
// in-memory tail for reads.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	f      *os.File
	nextID int64
	tail   []Message
}

const fileTailCap = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	msgPath := filepath.Join(dir, base) + ".messages.jsonl"

	tail, lastID, err := replayMessages(msgPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("message journal replay failed", logx.String("path", msgPath), logx.Err(err))
	}

	f, err := os.OpenFile(msgPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, f: f, nextID: lastID + 1, tail: tail}, nil
}

func (s *fileStore) AppendMessage(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("message journal closed")
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	m.ID = s.nextID
	if err := json.NewEncoder(s.f).Encode(m); err != nil {
		return err
	}
	s.nextID++
	s.tail = appendTail(s.tail, m)
	return nil
}

func (s *fileStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, min(limit, len(s.tail)))
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func replayMessages(path string) ([]Message, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var (
		tail   []Message
		lastID int64
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			// torn write at the end of the file; skip
			continue
		}
		if m.ID > lastID {
			lastID = m.ID
		}
		tail = appendTail(tail, m)
	}
	return tail, lastID, sc.Err()
}

func appendTail(tail []Message, m Message) []Message {
	tail = append(tail, m)
	if len(tail) > fileTailCap {
		tail = tail[len(tail)-fileTailCap:]
	}
	return tail
}
