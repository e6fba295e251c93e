// Package capability decides whether a session may reach a host domain or
// system command. All functions are pure; a Policy is immutable once built.
package capability

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Well-known system commands
const (
	CommandNavGo       = "nav.go"
	CommandNavBack     = "nav.back"
	CommandNotify      = "notify"
	CommandWindowClose = "window.close"
)

// all is the JSON spelling of an unrestricted capability set
const all = "all"

// Set is either unrestricted ("all") or an explicit allow-list
type Set struct {
	all   bool
	names map[string]struct{}
}

// All returns an unrestricted set
func All() Set {
	return Set{all: true}
}

// Only returns a set allowing exactly names
func Only(names ...string) Set {
	s := Set{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

// None returns a set allowing nothing
func None() Set {
	return Only()
}

// IsAll reports whether the set is unrestricted
func (s Set) IsAll() bool {
	return s.all
}

// Allows reports whether name is a member
func (s Set) Allows(name string) bool {
	if s.all {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Names returns the sorted explicit members (nil for "all")
func (s Set) Names() []string {
	if s.all {
		return nil
	}
	names := make([]string, 0, len(s.names))
	for n := range s.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON encodes "all" or a sorted list of names
func (s Set) MarshalJSON() ([]byte, error) {
	if s.all {
		return json.Marshal(all)
	}
	return json.Marshal(s.Names())
}

// UnmarshalJSON accepts "all" or a list of names
func (s *Set) UnmarshalJSON(data []byte) error {
	var word string
	if err := json.Unmarshal(data, &word); err == nil {
		if word != all {
			return fmt.Errorf("capability set: expected %q or a list, got %q", all, word)
		}
		*s = All()
		return nil
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("capability set: %w", err)
	}
	*s = Only(names...)
	return nil
}

// Policy is the allow-list governing which domains and system commands a
// session's intents may reach
type Policy struct {
	Domain Set `json:"domain"`
	System Set `json:"system"`
}

// DenyAll is the policy applied to sessions registered without one
func DenyAll() Policy {
	return Policy{Domain: None(), System: None()}
}

// AllowAll grants every domain and command
func AllowAll() Policy {
	return Policy{Domain: All(), System: All()}
}

// Decision is the result of an authorization check.
// Reason is a stable machine-readable code for the audit timeline.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// AuthorizeDomain checks whether domain is reachable under policy
func AuthorizeDomain(policy Policy, domain string) Decision {
	if policy.Domain.Allows(domain) {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: "domain_not_allowed:" + domain}
}

// AuthorizeSystem checks whether command is reachable under policy
func AuthorizeSystem(policy Policy, command string) Decision {
	if policy.System.Allows(command) {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: "system_command_not_allowed:" + command}
}

// IsNavigationCommand reports whether command changes the visible card
func IsNavigationCommand(command string) bool {
	return command == CommandNavGo || command == CommandNavBack
}
