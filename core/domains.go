package pipeline

import "fmt"

// Domain names one stage of the pipeline, in execution order.
type Domain string

const (
	DomainWake   Domain = "wake"
	DomainASR    Domain = "asr"
	DomainIntent Domain = "intent"
	DomainHandle Domain = "handle"
	DomainTTS    Domain = "tts"
)

var domainOrder = []Domain{DomainWake, DomainASR, DomainIntent, DomainHandle, DomainTTS}

// Domains returns all pipeline domains in execution order.
func Domains() []Domain {
	return domainOrder
}

// ParseDomain validates a domain name from user input.
func ParseDomain(name string) (Domain, error) {
	for _, domain := range domainOrder {
		if string(domain) == name {
			return domain, nil
		}
	}
	return "", fmt.Errorf("unknown pipeline domain %q", name)
}

// position returns the index of the domain in execution order, or -1 for
// the zero value (meaning "run everything").
func (d Domain) position() int {
	for i, domain := range domainOrder {
		if domain == d {
			return i
		}
	}
	return -1
}

// reachedStop reports whether a run that stops after stopAfter should end
// once domain d has completed.
func (d Domain) reachedStop(stopAfter Domain) bool {
	if stopAfter == "" {
		return false
	}
	return d.position() >= stopAfter.position()
}
