package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainCommand     = "triangulate/command/v1"
	DomainObservation = "triangulate/observation/v1"
	DomainOutput      = "triangulate/output/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommandID computes the content-addressed ID of a staged command.
// The same kind, key and payload always hash to the same ID, so a store can
// upsert by it and a re-run after repair does not duplicate effects.
// Source position is deliberately excluded.
func CommandID(kind, key string, payload Object) (string, error) {
	canonical, err := MarshalCanonical(Object{
		"kind":    String(kind),
		"key":     String(key),
		"payload": payload,
	})
	if err != nil {
		return "", fmt.Errorf("CommandID: %w", err)
	}
	return hashWithDomain(DomainCommand, canonical), nil
}

// ObservationID computes a content-addressed ID for one observation record.
func ObservationID(origin string, fields Object) (string, error) {
	canonical, err := MarshalCanonical(Object{
		"origin": String(origin),
		"fields": fields,
	})
	if err != nil {
		return "", fmt.Errorf("ObservationID: %w", err)
	}
	return hashWithDomain(DomainObservation, canonical), nil
}

// OutputHash hashes a complete consolidated output so two runs can be
// compared without holding both byte streams.
func OutputHash(data []byte) string {
	return hashWithDomain(DomainOutput, data)
}

// MustCommandID is like CommandID but panics on error.
// Use only in tests or when the payload is known to be valid.
func MustCommandID(kind, key string, payload Object) string {
	id, err := CommandID(kind, key, payload)
	if err != nil {
		panic(err)
	}
	return id
}
