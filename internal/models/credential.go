package models

import (
	"fmt"
	"time"
)

// RequiredCookieNames are the cookie names the upstream profile probe needs
// at minimum: one session-subject token and its secondary pair
// (spec.md §3, CredentialRecord).
var RequiredCookieNames = []string{"SUB", "SUBP"}

// CredentialRecord is the persisted artifact of a successful login
// validation (spec.md §3).
type CredentialRecord struct {
	UID         string            `json:"uid"`
	Cookies     map[string]string `json:"cookies"`
	FetchedAt   time.Time         `json:"fetched_at"`
	ValidatedAt time.Time         `json:"validated_at"`
	DisplayName string            `json:"display_name,omitempty"`
}

// StorageKey derives the namespaced Redis hash key for this record
// (spec.md §6.3: "<ns>:cookies:<uid>").
func (c *CredentialRecord) StorageKey(namespace string) string {
	return fmt.Sprintf("%s:cookies:%s", namespace, c.UID)
}

// MissingCookies returns the subset of RequiredCookieNames absent from the
// record, or nil if all are present.
func (c *CredentialRecord) MissingCookies() []string {
	var missing []string
	for _, name := range RequiredCookieNames {
		if _, ok := c.Cookies[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Valid reports the structural invariant of spec.md §3: non-empty uid,
// validated_at >= fetched_at, and all required cookies present.
func (c *CredentialRecord) Valid() bool {
	if c.UID == "" {
		return false
	}
	if c.ValidatedAt.Before(c.FetchedAt) {
		return false
	}
	return len(c.MissingCookies()) == 0
}
