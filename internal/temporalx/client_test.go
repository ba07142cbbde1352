package temporalx

import (
	"testing"
	"time"
)

func TestClampBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{4, 2 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := ClampBackoff(250*time.Millisecond, 5*time.Second, tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: want %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	c, err := NewClient(nil, Config{})
	if err != nil || c != nil {
		t.Fatalf("want nil client and nil error, got %v, %v", c, err)
	}
	if got := WithDefaults(Config{}); got.TaskQueue != "planforge" || got.Concurrency != 4 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
