package pool

import "testing"

func TestCurrentHeadless_FallsBackToConfiguredDefaultWithNoEntry(t *testing.T) {
	p := New(nil, nil, "", 1, "true")

	headless, ok := p.CurrentHeadless("alice")
	if ok {
		t.Fatal("no entry exists yet, ok must be false")
	}
	if headless != "true" {
		t.Fatalf("want fallback to pool default %q, got %q", "true", headless)
	}
}

func TestCurrentHeadless_ReportsTheEntrysActualLaunchedMode(t *testing.T) {
	p := New(nil, nil, "", 1, "true")
	p.entries["alice"] = &Entry{UserID: "alice", Headless: "false"}

	headless, ok := p.CurrentHeadless("alice")
	if !ok {
		t.Fatal("a live entry exists, ok must be true")
	}
	if headless != "false" {
		t.Fatalf("want the entry's own headless mode %q, got %q", "false", headless)
	}
}

func TestCurrentHeadless_IgnoresAnInFlightLaunchPlaceholder(t *testing.T) {
	p := New(nil, nil, "", 1, "true")
	p.entries["alice"] = &Entry{UserID: "alice", launch: &launchFuture{done: make(chan struct{})}}

	headless, ok := p.CurrentHeadless("alice")
	if ok {
		t.Fatal("a launching placeholder has no resolved headless mode yet, ok must be false")
	}
	if headless != "true" {
		t.Fatalf("want fallback to pool default %q, got %q", "true", headless)
	}
}
