package roster

import (
	"errors"
	"reflect"
	"testing"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	st := NewStore()
	err := st.Load([]Student{
		{ID: "s3", Name: "Casey", Honors: false, Grades: map[string]float64{"math": 71}},
		{ID: "s1", Name: "Alex", Honors: true, Grades: map[string]float64{"math": 95, "physics": 88}},
		{ID: "s2", Name: "Blair", Honors: false},
		{ID: "s4", Name: "Drew", Honors: true, Grades: map[string]float64{"math": 90}},
	})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return st
}

func TestLoadValidatesIDs(t *testing.T) {
	t.Parallel()
	st := NewStore()

	if err := st.Load([]Student{{ID: "9bad", Name: "X"}}); err == nil {
		t.Fatal("Load accepted id starting with a digit")
	}
	if err := st.Load([]Student{{ID: "", Name: "X"}}); err == nil {
		t.Fatal("Load accepted empty id")
	}
	err := st.Load([]Student{{ID: "s1"}, {ID: "s1"}})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate Load error = %v, want ErrDuplicate", err)
	}
}

func TestAddAndFind(t *testing.T) {
	t.Parallel()
	st := seeded(t)

	if err := st.Add(Student{ID: "s1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Add(s1) error = %v, want ErrDuplicate", err)
	}
	if err := st.Add(Student{ID: "s5", Name: "Emery"}); err != nil {
		t.Fatalf("Add(s5) error: %v", err)
	}

	got, err := st.Find("s5")
	if err != nil || got.Name != "Emery" {
		t.Fatalf("Find(s5) = %+v, %v", got, err)
	}
	if _, err := st.Find("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find(nope) error = %v, want ErrNotFound", err)
	}
}

func TestFindReturnsCopy(t *testing.T) {
	t.Parallel()
	st := seeded(t)

	got, _ := st.Find("s1")
	got.Grades["math"] = 0

	again, _ := st.Find("s1")
	if again.Grades["math"] != 95 {
		t.Fatal("mutating a returned student leaked into the store")
	}
}

func TestSetGrade(t *testing.T) {
	t.Parallel()
	st := seeded(t)

	if err := st.SetGrade("s2", "chemistry", 82.5); err != nil {
		t.Fatalf("SetGrade error: %v", err)
	}
	got, _ := st.Find("s2")
	if got.Grades["chemistry"] != 82.5 {
		t.Fatalf("grade = %v, want 82.5", got.Grades["chemistry"])
	}

	if err := st.SetGrade("nope", "math", 50); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetGrade(nope) error = %v, want ErrNotFound", err)
	}
	if err := st.SetGrade("s2", "  ", 50); err == nil {
		t.Fatal("SetGrade accepted blank course")
	}
}

func TestListIsSortedByID(t *testing.T) {
	t.Parallel()
	st := seeded(t)

	var ids []string
	for _, s := range st.List() {
		ids = append(ids, s.ID)
	}
	want := []string{"s1", "s2", "s3", "s4"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("List ids = %v, want %v", ids, want)
	}
}

func TestAverage(t *testing.T) {
	t.Parallel()
	s := Student{Grades: map[string]float64{"a": 80, "b": 90}}
	if got := s.Average(); got != 85 {
		t.Fatalf("Average = %v, want 85", got)
	}
	if got := (Student{}).Average(); got != 0 {
		t.Fatalf("empty Average = %v, want 0", got)
	}
}

func TestParseScopeAndResolveTargets(t *testing.T) {
	t.Parallel()
	st := seeded(t)

	tests := []struct {
		in   string
		want []string
	}{
		{"all", []string{"s1", "s2", "s3", "s4"}},
		{"  Honors ", []string{"s1", "s4"}},
		{"regular", []string{"s2", "s3"}},
		{"everyone", []string{}},
		{"", []string{}},
	}
	for _, tt := range tests {
		got := st.ResolveTargets(ParseScope(tt.in))
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("ResolveTargets(ParseScope(%q)) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCustomScope(t *testing.T) {
	t.Parallel()
	st := seeded(t)

	sc := CustomScope(func(s Student) bool { return s.Average() >= 90 })
	got := st.ResolveTargets(sc)
	want := []string{"s1", "s4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("custom scope targets = %v, want %v", got, want)
	}

	// Custom without a predicate selects nothing.
	if got := st.ResolveTargets(CustomScope(nil)); len(got) != 0 {
		t.Fatalf("nil predicate targets = %v, want empty", got)
	}
}
