package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{fmt.Errorf("score: %w", context.Canceled), KindCanceled},
		{context.DeadlineExceeded, KindCanceled},
		{fmt.Errorf("scores.csv: %w", ErrMissingArtifact), KindMissingArtifact},
		{fmt.Errorf("python exited 1: %w", ErrExternalProcess), KindExternalProcess},
		{fmt.Errorf("template: %w", ErrConfiguration), KindConfiguration},
		{fmt.Errorf("team name: %w", ErrInvalidArgument), KindConfiguration},
		{fmt.Errorf("%w: insert", ErrStore), KindStore},
		{ErrNotFound, KindUnknown},
		{errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestClassifyPrefersMostSpecificCause(t *testing.T) {
	err := errors.Join(ErrExternalProcess, ErrConfiguration)
	if got := Classify(err); got != KindExternalProcess {
		t.Fatalf("joined: got %q", got)
	}
}
