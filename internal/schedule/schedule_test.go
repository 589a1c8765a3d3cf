package schedule

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeCron(t *testing.T) {
	raw, err := Normalize("0 3 * * *")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Kind != "cron" || s.CronExpr != "0 3 * * *" {
		t.Errorf("unexpected schedule: %+v", s)
	}

	if _, err := Normalize("not a cron"); err == nil {
		t.Error("expected invalid cron rejected")
	}
}

func TestNormalizeInterval(t *testing.T) {
	raw, err := Normalize("every 15m")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s, _ := Parse(raw)
	if s.Kind != "interval" || s.Interval != 15*time.Minute {
		t.Errorf("unexpected schedule: %+v", s)
	}

	if _, err := Normalize("every -5m"); err == nil {
		t.Error("expected negative interval rejected")
	}
}

func TestNormalizeOnce(t *testing.T) {
	raw, err := Normalize("once 2026-09-01T03:00:00Z")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s, _ := Parse(raw)
	if s.Kind != "once" || s.At.IsZero() {
		t.Errorf("unexpected schedule: %+v", s)
	}

	if _, err := Normalize("once tomorrow"); err == nil {
		t.Error("expected invalid timestamp rejected")
	}
}

func TestNextRunAfterCron(t *testing.T) {
	raw, _ := Normalize("0 3 * * *")
	ref := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	next, err := NextRunAfter(raw, ref)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next == nil {
		t.Fatal("expected a next run")
	}
	if next.Hour() != 3 || !next.After(ref) {
		t.Errorf("unexpected next run: %v", next)
	}
}

func TestNextRunAfterInterval(t *testing.T) {
	raw, _ := Normalize("every 10m")
	ref := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	next, err := NextRunAfter(raw, ref)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if !next.Equal(ref.Add(10 * time.Minute)) {
		t.Errorf("expected ref+10m, got %v", next)
	}
}

func TestNextRunAfterOnce(t *testing.T) {
	raw, _ := Normalize("once 2026-09-01T03:00:00Z")

	before := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	next, err := NextRunAfter(raw, before)
	if err != nil || next == nil {
		t.Fatalf("expected pending one-shot, got (%v, %v)", next, err)
	}

	after := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	next, err = NextRunAfter(raw, after)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next != nil {
		t.Error("expected exhausted one-shot to have no next run")
	}
}

func TestDescribe(t *testing.T) {
	raw, _ := Normalize("every 1h0m0s")
	if got := Describe(raw); !strings.HasPrefix(got, "every ") {
		t.Errorf("unexpected description: %s", got)
	}
	if got := Describe("garbage"); got != "garbage" {
		t.Errorf("unparseable input should pass through, got %s", got)
	}
}
