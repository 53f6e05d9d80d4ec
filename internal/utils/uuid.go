// Package utils provides id generation and a small worker pool shared by the
// tracker tooling.
package utils

import (
	"github.com/google/uuid"
)

// GenerateUUID generates a new UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

// IsValidUUID checks if a string is a valid UUID.
// Returns true if the string can be parsed as any valid UUID format
// (with or without hyphens).
func IsValidUUID(uuidStr string) bool {
	_, err := uuid.Parse(uuidStr)
	return err == nil
}

// GenerateNamespaceUUID generates a UUID v5 based on a namespace and name.
// The same namespace and name always give the same id.
func GenerateNamespaceUUID(namespace uuid.UUID, name string) string {
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// Namespaces for deterministic ids.
var (
	// NamespaceViewers derives a viewer id from a stable label, such as the
	// viewer named in a replay script.
	NamespaceViewers = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	// NamespaceSessions derives session ids for reproducible replays.
	NamespaceSessions = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
)
