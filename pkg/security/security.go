// Package security holds the prompt validation policies the broker applies
// before a prompt reaches the engine.
package security

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rhuss/lmbroker/pkg/api"
)

// MaxPromptLength is the default limit, in characters, of the strict policy.
const MaxPromptLength = 10_000

// SuspiciousPatterns are the case-insensitive substrings the strict policy
// rejects.
var SuspiciousPatterns = []string{
	"ignore previous",
	"system:",
	"<<<",
	"###",
	"instructions:",
	"forget",
	"disregard",
}

// Validator decides whether a prompt may be sent to the engine.
// Implementations must be safe for concurrent use.
type Validator interface {
	ValidatePrompt(prompt string) error
}

// Permissive accepts every prompt. It is the default policy.
type Permissive struct{}

func (Permissive) ValidatePrompt(string) error { return nil }

// Strict rejects overlong prompts and prompts containing a suspicious pattern.
type Strict struct {
	MaxLength int
	Patterns  []string
}

// NewStrict returns a Strict policy with the default limit and patterns.
// A maxLength of zero keeps the default.
func NewStrict(maxLength int) *Strict {
	if maxLength <= 0 {
		maxLength = MaxPromptLength
	}
	return &Strict{MaxLength: maxLength, Patterns: SuspiciousPatterns}
}

// ValidatePrompt returns api.NewPromptTooLongError or
// api.NewSuspiciousInputError for a rejected prompt.
func (s *Strict) ValidatePrompt(prompt string) error {
	if n := utf8.RuneCountInString(prompt); s.MaxLength > 0 && n > s.MaxLength {
		return api.NewPromptTooLongError(n)
	}
	lower := strings.ToLower(prompt)
	for _, p := range s.Patterns {
		if strings.Contains(lower, p) {
			return api.NewSuspiciousInputError(p)
		}
	}
	return nil
}

// New returns the validator for a policy name: "permissive" (or empty) or "strict".
func New(policy string, maxLength int) (Validator, error) {
	switch policy {
	case "", "permissive":
		return Permissive{}, nil
	case "strict":
		return NewStrict(maxLength), nil
	default:
		return nil, fmt.Errorf("unknown security policy %q", policy)
	}
}
