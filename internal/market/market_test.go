package market

import (
	"testing"
	"time"
)

func TestWindowString(t *testing.T) {
	cases := map[Window]string{1: "1min", 5: "5min", 15: "15min"}
	for w, want := range cases {
		if got := w.String(); got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}
}

func TestWindowDuration(t *testing.T) {
	if Window(5).Duration() != 5*time.Minute {
		t.Fatalf("unexpected duration: %s", Window(5).Duration())
	}
}
