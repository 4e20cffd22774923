package grplerr

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(HalError, "send failed", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to see through Unwrap")
	}
}

func TestCodeStability(t *testing.T) {
	cases := map[Kind]int32{
		Generic:              0,
		Timeout:              1,
		ParameterOutOfBounds: 2,
		FailedAssertion:      3,
		ParseError:           4,
		HalError:             5,
	}
	for k, want := range cases {
		if got := k.Code(); got != want {
			t.Fatalf("kind %v: got code %d want %d", k, got, want)
		}
	}
}

func TestMetricLabelForNonTaxonomyError(t *testing.T) {
	if got := MetricLabel(errors.New("plain")); got != "other" {
		t.Fatalf("expected other, got %s", got)
	}
}

func TestMetricLabelForTaxonomyError(t *testing.T) {
	if got := MetricLabel(Timeoutf("deadline exceeded")); got != "timeout" {
		t.Fatalf("expected timeout, got %s", got)
	}
}
