package pipeline

import "testing"

func TestParseDomain(t *testing.T) {
	for _, domain := range Domains() {
		parsed, err := ParseDomain(string(domain))
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", domain, err)
		}
		if parsed != domain {
			t.Fatalf("expected %q, got %q", domain, parsed)
		}
	}

	if _, err := ParseDomain("synthesis"); err == nil {
		t.Fatalf("expected an unknown domain error")
	}
}

func TestReachedStop(t *testing.T) {
	if DomainWake.reachedStop("") {
		t.Fatalf("expected no stop point to never stop")
	}
	if !DomainASR.reachedStop(DomainASR) {
		t.Fatalf("expected the run to stop at its stop point")
	}
	if !DomainIntent.reachedStop(DomainASR) {
		t.Fatalf("expected the run to stop past its stop point")
	}
	if DomainWake.reachedStop(DomainTTS) {
		t.Fatalf("expected the run to keep going before its stop point")
	}
}
