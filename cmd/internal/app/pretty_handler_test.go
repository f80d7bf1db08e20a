package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_FormatsRecord(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("ws.connect", "user_id", "u1", "status", 200, "duration_ms", 15)

	out := sb.String()
	if !strings.Contains(out, "msg=ws.connect") {
		t.Fatalf("missing msg in %q", out)
	}
	if !strings.Contains(out, "user_id=u1") {
		t.Fatalf("missing attr in %q", out)
	}
	if !strings.Contains(out, "status=200") {
		t.Fatalf("missing status in %q", out)
	}
	if !strings.Contains(out, "duration_ms=15ms") {
		t.Fatalf("missing duration in %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("color disabled but escapes present: %q", out)
	}
}

func TestPrettyHandler_GroupsAndWithAttrs(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, false)
	log := slog.New(h).With("session_id", "s1").WithGroup("conn")

	log.Info("read", "bytes", 42)

	out := sb.String()
	if !strings.Contains(out, "session_id=s1") {
		t.Fatalf("missing pre-bound attr in %q", out)
	}
	if !strings.Contains(out, "conn.bytes=42") {
		t.Fatalf("missing grouped attr in %q", out)
	}
}

func TestPrettyHandler_LevelGate(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be gated at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should pass at warn level")
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "has space", want: `"has space"`},
		{in: `key=value`, want: `"key=value"`},
	}

	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
