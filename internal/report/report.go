// Package report renders per-student grade reports to disk in csv, json,
// or text form. Rendering is throttled by a shared rate limiter so a big
// batch cannot saturate the disk.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gradebook/internal/roster"
	"gradebook/internal/task/batch"
	logx "gradebook/pkg/logx"
)

// Formats lists the supported render formats.
var Formats = []string{"csv", "json", "text"}

// RenderError wraps any failure while rendering one (target, format) cell.
type RenderError struct {
	Target string
	Format string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s/%s: %v", e.Target, e.Format, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func renderErr(target, format string, err error) error {
	return &RenderError{Target: target, Format: format, Err: err}
}

// Config controls the renderer.
type Config struct {
	// Dir is where artifacts land; created on New if missing.
	Dir string

	// RatePerSec caps renders per second across all workers.
	// 0 disables throttling.
	RatePerSec float64
	Burst      int
}

// Service renders reports for roster students. Safe for concurrent use;
// it is the Renderer behind the batch engine.
type Service struct {
	cfg     Config
	store   *roster.Store
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, store *roster.Store, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("report: output dir required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}

	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Service{cfg: cfg, store: store, log: log, limiter: lim}, nil
}

// Render writes one report file and returns its artifact. It satisfies
// batch.Renderer.
func (s *Service) Render(ctx context.Context, target, format string) (batch.Artifact, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return batch.Artifact{}, renderErr(target, format, err)
		}
	}

	student, err := s.store.Find(target)
	if err != nil {
		return batch.Artifact{}, renderErr(target, format, err)
	}

	var body []byte
	switch format {
	case "csv":
		body, err = renderCSV(student)
	case "json":
		body, err = renderJSON(student)
	case "text":
		body, err = renderText(student)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return batch.Artifact{}, renderErr(target, format, err)
	}

	name := fmt.Sprintf("%s.%s", student.ID, extFor(format))
	path := filepath.Join(s.cfg.Dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return batch.Artifact{}, renderErr(target, format, err)
	}

	s.log.Debug("report written", logx.String("artifact", name), logx.Int("bytes", len(body)))
	return batch.Artifact{ID: name, Size: int64(len(body))}, nil
}

func extFor(format string) string {
	if format == "text" {
		return "txt"
	}
	return format
}

// courseNames returns the student's courses in stable order.
func courseNames(s roster.Student) []string {
	names := make([]string, 0, len(s.Grades))
	for c := range s.Grades {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

func renderCSV(s roster.Student) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"course", "score"}); err != nil {
		return nil, err
	}
	for _, c := range courseNames(s) {
		if err := w.Write([]string{c, strconv.FormatFloat(s.Grades[c], 'f', 1, 64)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jsonReport struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Honors    bool               `json:"honors"`
	Grades    map[string]float64 `json:"grades"`
	Average   float64            `json:"average"`
	Generated time.Time          `json:"generated"`
}

func renderJSON(s roster.Student) ([]byte, error) {
	return json.MarshalIndent(jsonReport{
		ID:        s.ID,
		Name:      s.Name,
		Honors:    s.Honors,
		Grades:    s.Grades,
		Average:   s.Average(),
		Generated: time.Now().UTC(),
	}, "", "  ")
}

func renderText(s roster.Student) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Grade report for %s (%s)\n", s.Name, s.ID)
	if s.Honors {
		b.WriteString("Track: honors\n")
	} else {
		b.WriteString("Track: regular\n")
	}
	b.WriteString("\n")
	for _, c := range courseNames(s) {
		fmt.Fprintf(&b, "  %-20s %6.1f\n", c, s.Grades[c])
	}
	if len(s.Grades) == 0 {
		b.WriteString("  no grades recorded\n")
	} else {
		fmt.Fprintf(&b, "\n  %-20s %6.1f\n", "average", s.Average())
	}
	return []byte(b.String()), nil
}
