package logx

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestBurstCapOnlyAffectsWarnAndError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}, MaxPerSec: 2})
	defer svc.Close()

	for i := 0; i < 10; i++ {
		log.Warn("burst", Int("i", i))
	}
	for i := 0; i < 5; i++ {
		log.Info("steady", Int("i", i))
	}

	lines := countLines(t, path)
	dropped := int(svc.Suppressed())
	if dropped == 0 {
		t.Fatalf("expected suppressed warn lines")
	}
	if lines+dropped != 15 {
		t.Fatalf("lines=%d dropped=%d, want total 15", lines, dropped)
	}
	if lines < 5+2 {
		t.Fatalf("lines=%d, info lines or burst allowance lost", lines)
	}
}

func TestApplyWithoutCapWritesEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}, MaxPerSec: 1})
	defer svc.Close()

	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	for i := 0; i < 20; i++ {
		log.Error("uncapped", Int("i", i))
	}
	log.Debug("filtered")

	if got := countLines(t, path); got != 20 {
		t.Fatalf("lines=%d want 20", got)
	}
	if svc.Suppressed() != 0 {
		t.Fatalf("suppressed=%d", svc.Suppressed())
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger not reported as zero")
	}
	l.With(String("k", "v")).Info("ignored")
	if Nop().IsZero() {
		t.Fatalf("Nop reported as zero")
	}
}
