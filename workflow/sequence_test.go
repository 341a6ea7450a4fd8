package workflow

import (
	"errors"
	"strings"
	"testing"
)

func seqOrders(tasks []TaskSpec) []int {
	var r []int
	for _, t := range tasks {
		r = append(r, t.SequenceOrder)
	}
	return r
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNormalizeGaps(t *testing.T) {
	in := []TaskSpec{
		{Name: "a", Role: RoleHRAdmin, SequenceOrder: 1},
		{Name: "b", Role: RoleHRAdmin, SequenceOrder: 5},
		{Name: "c", Role: RoleHRAdmin, SequenceOrder: 10},
	}
	out, err := ValidateAndNormalize(in)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := seqOrders(out), []int{1, 2, 3}; !equalInts(have, want) {
		t.Errorf("have: %v, want: %v", have, want)
	}
	for i, name := range []string{"a", "b", "c"} {
		if have, want := out[i].Name, name; have != want {
			t.Errorf("position %d: have: %v, want: %v", i, have, want)
		}
	}
	// input is left untouched
	if have, want := in[2].SequenceOrder, 10; have != want {
		t.Errorf("input modified: have: %v, want: %v", have, want)
	}
}

func TestNormalizeParallelGroups(t *testing.T) {
	for _, test := range []struct {
		name string
		in   []TaskSpec
		want []int
	}{
		{
			"parallel_then_single",
			[]TaskSpec{
				{Name: "a", Role: RoleHRAdmin, SequenceOrder: 1, Parallel: true},
				{Name: "b", Role: RoleTechSupport, SequenceOrder: 1, Parallel: true},
				{Name: "c", Role: RoleHRAdmin, SequenceOrder: 2},
			},
			[]int{1, 1, 2},
		},
		{
			"gapped_parallel",
			[]TaskSpec{
				{Name: "a", Role: RoleHRAdmin, SequenceOrder: 3},
				{Name: "b", Role: RoleHRAdmin, SequenceOrder: 7, Parallel: true},
				{Name: "c", Role: RoleHRAdmin, SequenceOrder: 7, Parallel: true},
				{Name: "d", Role: RoleHRAdmin, SequenceOrder: 7, Parallel: true},
				{Name: "e", Role: RoleHRAdmin, SequenceOrder: 20},
			},
			[]int{1, 2, 2, 2, 3},
		},
		{
			"unsorted_input",
			[]TaskSpec{
				{Name: "c", Role: RoleHRAdmin, SequenceOrder: 30},
				{Name: "a", Role: RoleHRAdmin, SequenceOrder: 10, Parallel: true},
				{Name: "b", Role: RoleHRAdmin, SequenceOrder: 10, Parallel: true},
			},
			[]int{1, 1, 2},
		},
		{
			"lone_parallel",
			[]TaskSpec{
				{Name: "a", Role: RoleHRAdmin, SequenceOrder: 2, Parallel: true},
			},
			[]int{1},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			out, err := ValidateAndNormalize(test.in)
			if err != nil {
				t.Fatal(err)
			}
			if have := seqOrders(out); !equalInts(have, test.want) {
				t.Errorf("have: %v, want: %v", have, test.want)
			}
		})
	}
}

func TestNormalizeKeepsGroupMembership(t *testing.T) {
	in := []TaskSpec{
		{Ref: "x", Name: "x", Role: RoleHRAdmin, SequenceOrder: 4, Parallel: true},
		{Ref: "y", Name: "y", Role: RoleHRAdmin, SequenceOrder: 9},
		{Ref: "z", Name: "z", Role: RoleHRAdmin, SequenceOrder: 4, Parallel: true},
	}
	out, err := ValidateAndNormalize(in)
	if err != nil {
		t.Fatal(err)
	}
	byRef := make(map[string]int)
	for _, ts := range out {
		byRef[ts.Ref] = ts.SequenceOrder
	}
	if byRef["x"] != byRef["z"] {
		t.Errorf("parallel group split: x=%d z=%d", byRef["x"], byRef["z"])
	}
	if byRef["y"] <= byRef["x"] {
		t.Errorf("relative order lost: x=%d y=%d", byRef["x"], byRef["y"])
	}
}

func TestValidateAndNormalizeErrors(t *testing.T) {
	for _, test := range []struct {
		name     string
		in       []TaskSpec
		contains string
	}{
		{
			"empty",
			nil,
			"at least one task required",
		},
		{
			"duplicate_non_parallel",
			[]TaskSpec{
				{Name: "a", Role: RoleHRAdmin, SequenceOrder: 1},
				{Name: "b", Role: RoleHRAdmin, SequenceOrder: 3},
				{Name: "c", Role: RoleHRAdmin, SequenceOrder: 3, Parallel: true},
			},
			"sequence order 3",
		},
		{
			"missing_dependency",
			[]TaskSpec{
				{Ref: "a", Name: "a", Role: RoleHRAdmin, SequenceOrder: 1},
				{Ref: "b", Name: "b", Role: RoleHRAdmin, SequenceOrder: 2, DependsOn: "nope"},
			},
			"unknown task",
		},
		{
			"two_cycle",
			[]TaskSpec{
				{Ref: "a", Name: "a", Role: RoleHRAdmin, SequenceOrder: 1, DependsOn: "b"},
				{Ref: "b", Name: "b", Role: RoleHRAdmin, SequenceOrder: 2, DependsOn: "a"},
			},
			"cycle",
		},
		{
			"self_dependency",
			[]TaskSpec{
				{Ref: "a", Name: "a", Role: RoleHRAdmin, SequenceOrder: 1, DependsOn: "a"},
			},
			`cycle detected at task "a"`,
		},
		{
			"forward_dependency",
			[]TaskSpec{
				{Ref: "a", Name: "a", Role: RoleHRAdmin, SequenceOrder: 1, DependsOn: "b"},
				{Ref: "b", Name: "b", Role: RoleHRAdmin, SequenceOrder: 2},
			},
			"lower sequence order",
		},
		{
			"same_group_dependency",
			[]TaskSpec{
				{Ref: "a", Name: "a", Role: RoleHRAdmin, SequenceOrder: 1, Parallel: true},
				{Ref: "b", Name: "b", Role: RoleHRAdmin, SequenceOrder: 1, Parallel: true, DependsOn: "a"},
			},
			"lower sequence order",
		},
		{
			"duplicate_ref",
			[]TaskSpec{
				{Ref: "a", Name: "a", Role: RoleHRAdmin, SequenceOrder: 1},
				{Ref: "a", Name: "b", Role: RoleHRAdmin, SequenceOrder: 2},
			},
			"duplicate task reference",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			out, err := ValidateAndNormalize(test.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if out != nil {
				t.Error("expected nil tasks on error")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, have: %v", err)
			}
			if !strings.Contains(err.Error(), test.contains) {
				t.Errorf("error %q does not contain %q", err, test.contains)
			}
		})
	}
}

// duplicate sequence orders are reported before a cycle in the same list.
func TestValidatePrecedence(t *testing.T) {
	_, err := ValidateAndNormalize([]TaskSpec{
		{Ref: "a", Name: "a", Role: RoleHRAdmin, SequenceOrder: 2, DependsOn: "b"},
		{Ref: "b", Name: "b", Role: RoleHRAdmin, SequenceOrder: 2, DependsOn: "a"},
	})
	if err == nil || !strings.Contains(err.Error(), "sequence order 2") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTaskSpecValidate(t *testing.T) {
	tests := []struct {
		name  string
		spec  *TaskSpec
		valid bool
	}{
		{"valid", &TaskSpec{Name: "n", Role: RoleLineManager, SequenceOrder: 1}, true},
		{"nil", nil, false},
		{"no name", &TaskSpec{Role: RoleLineManager, SequenceOrder: 1}, false},
		{"bad role", &TaskSpec{Name: "n", Role: "JANITOR", SequenceOrder: 1}, false},
		{"zero order", &TaskSpec{Name: "n", Role: RoleLineManager}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if have := test.spec.Validate() == nil; have != test.valid {
				t.Errorf("have valid: %v, want: %v", have, test.valid)
			}
		})
	}
}
