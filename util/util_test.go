package util

import (
	"fmt"
	"testing"
	"time"
)

func TestTimeString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d time.Duration
		s string
	}{
		{d: 1500 * time.Millisecond, s: "1.500 s"},
		{d: 2*time.Minute + 3*time.Second, s: "2 min 3.0 s"},
		{d: time.Hour + 90*time.Second, s: "1 h 1 min 30.0 s"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.d), func(t *testing.T) {
			t.Parallel()
			if s := TimeString(test.d); s != test.s {
				t.Fatalf("%s, expected %s", s, test.s)
			}
		})
	}
}

func TestSkipThrottler(t *testing.T) {
	t.Parallel()
	tt := NewSkipThrottler(time.Hour)
	if !tt.Ok() {
		t.Fatalf("first call should pass")
	}
	if tt.Ok() {
		t.Fatalf("second call within period should be skipped")
	}
}
