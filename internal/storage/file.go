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

	"gradebook/internal/roster"
	logx "gradebook/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
//   - <prefix>.roster.json   (whole-roster snapshot, atomically replaced)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditPath  string
	auditFile  *os.File
	rosterPath string
}

type rosterRecord struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Honors bool               `json:"honors,omitempty"`
	Grades map[string]float64 `json:"grades,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:        log,
		auditPath:  auditPath,
		auditFile:  af,
		rosterPath: prefix + ".roster.json",
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// PruneAudit rewrites the audit log keeping only entries at or after the
// cutoff. Returns the number of entries dropped.
func (s *fileStore) PruneAudit(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return 0, errors.New("audit file closed")
	}

	in, err := os.Open(s.auditPath)
	if err != nil {
		return 0, err
	}

	tmp := s.auditPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	dropped := 0
	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// Keep unparseable lines rather than silently losing history.
			w.Write(sc.Bytes())
			w.WriteByte('\n')
			continue
		}
		if e.At.Before(olderThan) {
			dropped++
			continue
		}
		w.Write(sc.Bytes())
		w.WriteByte('\n')
	}
	_ = in.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, s.auditPath); err != nil {
		return 0, err
	}

	// Reopen the append handle on the rewritten file.
	_ = s.auditFile.Close()
	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.auditFile = nil
		return dropped, err
	}
	s.auditFile = af
	return dropped, nil
}

// SaveRoster atomically replaces the roster snapshot.
func (s *fileStore) SaveRoster(ctx context.Context, students []roster.Student) error {
	_ = ctx
	recs := make([]rosterRecord, 0, len(students))
	for _, st := range students {
		recs = append(recs, rosterRecord{ID: st.ID, Name: st.Name, Honors: st.Honors, Grades: st.Grades})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.rosterPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.rosterPath)
}

// LoadRoster reads the latest snapshot. A missing snapshot is not an
// error; it returns an empty roster.
func (s *fileStore) LoadRoster(ctx context.Context) ([]roster.Student, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.rosterPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []rosterRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return nil, err
	}
	out := make([]roster.Student, 0, len(recs))
	for _, r := range recs {
		out = append(out, roster.Student{ID: r.ID, Name: r.Name, Honors: r.Honors, Grades: r.Grades})
	}
	return out, nil
}
