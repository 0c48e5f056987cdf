package domain

import (
	"fmt"
	"strings"
)

// CaseNormalization selects the canonical case of persisted addresses.
type CaseNormalization string

const (
	// CaseLowercase stores addresses lowercased. This is the default.
	CaseLowercase CaseNormalization = "lowercase"

	// CaseAsProvided stores addresses exactly as the deployer returned them,
	// e.g. EIP-55 checksummed.
	CaseAsProvided CaseNormalization = "asProvided"
)

// DefaultCaseNormalization is used when no normalization is configured.
const DefaultCaseNormalization = CaseLowercase

// ParseCaseNormalization parses a configured normalization. The empty string
// yields the default; matching is case-insensitive.
func ParseCaseNormalization(s string) (CaseNormalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultCaseNormalization, nil
	case "lowercase", "lower":
		return CaseLowercase, nil
	case "asprovided", "as_provided", "as-provided":
		return CaseAsProvided, nil
	default:
		return "", fmt.Errorf("unknown case normalization %q: want lowercase or asProvided", s)
	}
}

// Normalize applies the normalization to address.
func (c CaseNormalization) Normalize(address string) string {
	address = strings.TrimSpace(address)
	if c == CaseAsProvided {
		return address
	}
	return strings.ToLower(address)
}
