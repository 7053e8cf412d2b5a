package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/taxpilot/taxpilot/internal/testutil"
)

func TestRunRejectsInvalidPeriod(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, nil, 0, testutil.DiscardLogger())

	if _, err := p.Run(context.Background(), Options{Period: "last-tuesday"}); err == nil {
		t.Error("Run accepted an invalid period")
	}
}

func TestBuildStepsOrder(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, nil, 0, testutil.DiscardLogger())

	steps := p.buildSteps(Options{SkipFetch: true}, new(string))

	want := []string{StepSanitize, StepFetch, StepSync, StepValidate, StepAggregate, StepDetect, StepReport}
	if len(steps) != len(want) {
		t.Fatalf("buildSteps returned %d steps, want %d", len(steps), len(want))
	}
	for i, st := range steps {
		if st.name != want[i] {
			t.Errorf("step %d = %q, want %q", i, st.name, want[i])
		}
	}
	for _, st := range steps {
		if st.skip != (st.name == StepFetch) {
			t.Errorf("step %q skip = %v with SkipFetch set", st.name, st.skip)
		}
	}
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, nil, 0, testutil.DiscardLogger())

	var order []string
	record := func(name string, err error) step {
		return step{name: name, fn: func(context.Context) (string, error) {
			order = append(order, name)
			return "done", err
		}}
	}

	result := &RunResult{}
	steps := []step{
		record("first", nil),
		record("second", errors.New("boom")),
		record("third", nil),
	}

	err := p.execute(context.Background(), result, steps)
	if err == nil {
		t.Fatal("execute succeeded past a failing step")
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("steps ran in order %v, want [first second]", order)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("result has %d steps, want 2", len(result.Steps))
	}
	if result.Steps[0].Status != "success" {
		t.Errorf("first step status = %q", result.Steps[0].Status)
	}
	if result.Steps[1].Status != "error" || result.Steps[1].Error != "boom" {
		t.Errorf("second step = %+v", result.Steps[1])
	}
}

func TestExecuteSkipsFlaggedSteps(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, nil, 0, testutil.DiscardLogger())

	ran := false
	steps := []step{
		{name: "skipped", skip: true, fn: func(context.Context) (string, error) {
			ran = true
			return "", nil
		}},
	}

	result := &RunResult{}
	if err := p.execute(context.Background(), result, steps); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ran {
		t.Error("skipped step ran")
	}
	if len(result.Steps) != 0 {
		t.Errorf("result has %d steps for a fully skipped run", len(result.Steps))
	}
}
