package ir

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Service identifies a logical endpoint participating in the shared stream.
type Service string

// Known services. The client's own identity is one of these, chosen by the
// deployment's pipeline file.
const (
	ServiceFrontend Service = "frontend"
	ServiceStore    Service = "store"
	ServiceReplica  Service = "replica"
	ServiceSearch   Service = "search"
	ServiceAudit    Service = "audit"
)

var knownServices = map[Service]bool{
	ServiceFrontend: true,
	ServiceStore:    true,
	ServiceReplica:  true,
	ServiceSearch:   true,
	ServiceAudit:    true,
}

// KnownServices returns all known service identities in declaration order.
func KnownServices() []Service {
	return []Service{ServiceFrontend, ServiceStore, ServiceReplica, ServiceSearch, ServiceAudit}
}

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	return knownServices[s]
}

// ParseService normalizes a service name (NFC, trimmed, lower case) and
// rejects names that are not known services.
func ParseService(raw string) (Service, error) {
	name := strings.ToLower(strings.TrimSpace(norm.NFC.String(raw)))
	s := Service(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown service %q", raw)
	}
	return s, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so that unknown services
// are rejected at decode time.
func (s *Service) UnmarshalText(text []byte) error {
	parsed, err := ParseService(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
