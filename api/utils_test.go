package api

import (
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestNextTimestampMonotonic(t *testing.T) {
	t.Cleanup(func() {
		atomic.StoreInt64(&lastTimestamp, 0)
	})
	base := time.Now().Add(time.Second).UnixNano()
	atomic.StoreInt64(&lastTimestamp, base)

	first := nextTimestamp()
	second := nextTimestamp()
	if first != base+1 || second != base+2 {
		t.Fatalf("expected sequential timestamps after %d, got %d and %d", base, first, second)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		ok   bool
	}{
		{raw: "12", want: 12, ok: true},
		{raw: " 7 ", want: 7, ok: true},
		{raw: "0"},
		{raw: "-3"},
		{raw: "abc"},
		{raw: ""},
	}
	for _, tt := range tests {
		got, ok := parseID(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("parseID(%q) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(" a, ,b ,"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected split: %#v", got)
	}
	if got := splitList(""); got != nil {
		t.Fatalf("expected nil for empty input, got %#v", got)
	}
}
