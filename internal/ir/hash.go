package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Domain prefixes for content hashing.
// Version suffix enables future algorithm migration.
const (
	DomainDesign   = "viewkit/design/v1"
	DomainDocument = "viewkit/document/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DesignDigest computes the content digest of a design document's views.
// Identity fields (ID, Rev) and the digest itself are excluded, so two
// compilations of the same definition always agree.
func DesignDigest(doc *DesignDoc) (string, error) {
	views := make(Object, len(doc.Views))
	for name, v := range doc.Views {
		views[name] = v.toObject()
	}
	obj := Object{
		"language": String(doc.Language),
		"views":    views,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DesignDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDesign, canonical), nil
}

// NextRevision computes the revision token that follows prev for body.
// Revisions have the form "<generation>-<hash>"; prev is "" for new documents.
// Fields starting with "_" are excluded from the hash.
func NextRevision(prev string, body Object) (string, error) {
	gen := 0
	if prev != "" {
		g, err := RevisionGeneration(prev)
		if err != nil {
			return "", err
		}
		gen = g
	}

	content := make(Object, len(body))
	for k, v := range body {
		if !strings.HasPrefix(k, "_") {
			content[k] = v
		}
	}
	canonical, err := MarshalCanonical(Object{
		"prev": String(prev),
		"body": content,
	})
	if err != nil {
		return "", fmt.Errorf("NextRevision: failed to marshal: %w", err)
	}
	return fmt.Sprintf("%d-%s", gen+1, hashWithDomain(DomainDocument, canonical)[:32]), nil
}

// RevisionGeneration returns the numeric prefix of a revision token.
func RevisionGeneration(rev string) (int, error) {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0, fmt.Errorf("malformed revision %q", rev)
	}
	gen, err := strconv.Atoi(head)
	if err != nil || gen < 1 {
		return 0, fmt.Errorf("malformed revision %q", rev)
	}
	return gen, nil
}

// MustDesignDigest is like DesignDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDesignDigest(doc *DesignDoc) string {
	d, err := DesignDigest(doc)
	if err != nil {
		panic(err)
	}
	return d
}
