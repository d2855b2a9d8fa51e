// Package roster holds the in-memory student directory that batches and
// recurring jobs select their targets from.
package roster

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound  = errors.New("roster: student not found")
	ErrDuplicate = errors.New("roster: student id already present")
)

// Student ids are short machine-friendly handles, not display names.
var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,31}$`)

// Student is one roster entry. Grades map course name to a 0-100 score.
type Student struct {
	ID     string
	Name   string
	Honors bool
	Grades map[string]float64
}

// Average returns the mean score across courses, 0 for an empty record.
func (s Student) Average() float64 {
	if len(s.Grades) == 0 {
		return 0
	}
	var sum float64
	for _, g := range s.Grades {
		sum += g
	}
	return sum / float64(len(s.Grades))
}

func (s Student) clone() Student {
	out := s
	out.Grades = make(map[string]float64, len(s.Grades))
	for k, v := range s.Grades {
		out.Grades[k] = v
	}
	return out
}

// ValidateID reports whether id is a legal student id.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("roster: invalid student id %q", id)
	}
	return nil
}

// Store is a concurrency-safe student directory. Reads return copies so
// callers can never mutate shared state through a returned Student.
type Store struct {
	mu       sync.RWMutex
	students map[string]Student
}

func NewStore() *Store {
	return &Store{students: map[string]Student{}}
}

// Load replaces the whole roster, validating every id first. Used at
// startup and by the periodic snapshot restore.
func (st *Store) Load(students []Student) error {
	next := make(map[string]Student, len(students))
	for _, s := range students {
		if err := ValidateID(s.ID); err != nil {
			return err
		}
		if _, dup := next[s.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
		}
		next[s.ID] = s.clone()
	}

	st.mu.Lock()
	st.students = next
	st.mu.Unlock()
	return nil
}

// Add inserts one student; an existing id is an error.
func (st *Store) Add(s Student) error {
	if err := ValidateID(s.ID); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, dup := st.students[s.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}
	st.students[s.ID] = s.clone()
	return nil
}

// SetGrade records one course score, creating the course if needed.
func (st *Store) SetGrade(id, course string, score float64) error {
	course = strings.TrimSpace(course)
	if course == "" {
		return errors.New("roster: course name required")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.students[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Grades == nil {
		s.Grades = map[string]float64{}
	}
	s.Grades[course] = score
	st.students[id] = s
	return nil
}

// Find returns the student by id.
func (st *Store) Find(id string) (Student, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.students[id]
	if !ok {
		return Student{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.clone(), nil
}

// List returns every student ordered by id.
func (st *Store) List() []Student {
	return st.Filter(func(Student) bool { return true })
}

// Filter returns students matching pred, ordered by id.
func (st *Store) Filter(pred func(Student) bool) []Student {
	st.mu.RLock()
	out := make([]Student, 0, len(st.students))
	for _, s := range st.students {
		if pred == nil || pred(s) {
			out = append(out, s.clone())
		}
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the roster size.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.students)
}
