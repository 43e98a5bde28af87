// Package cep describes the CEP lookup workload: the postal-code variants,
// the target service and the built-in load test scenario.
package cep

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// CodeLength is the number of digits in a CEP.
const CodeLength = 8

var (
	// ErrEmptyVariantSet is returned when a variant set has no members.
	ErrEmptyVariantSet = errors.New("variant set is empty")

	// ErrMixedVariants is returned when variants denote different CEPs.
	ErrMixedVariants = errors.New("variants denote different postal codes")
)

// VariantSet is a fixed, ordered set of spellings of one CEP.
type VariantSet struct {
	variants  []string
	canonical string
}

// NewVariantSet builds a variant set. Every variant must normalize to the
// same 8-digit code.
func NewVariantSet(variants ...string) (*VariantSet, error) {
	if len(variants) == 0 {
		return nil, ErrEmptyVariantSet
	}

	canonical := ""
	for i, v := range variants {
		code := Normalize(v)
		if code == "" {
			return nil, fmt.Errorf("variant %q is not a valid postal code", v)
		}
		if i == 0 {
			canonical = code
			continue
		}
		if code != canonical {
			return nil, fmt.Errorf("%w: %q and %q", ErrMixedVariants, variants[0], v)
		}
	}

	return &VariantSet{
		variants:  append([]string(nil), variants...),
		canonical: canonical,
	}, nil
}

// DefaultVariants returns the digits-only and hyphenated spellings of
// 01310-100.
func DefaultVariants() *VariantSet {
	s, err := NewVariantSet("01310100", "01310-100")
	if err != nil {
		panic(err)
	}
	return s
}

// Pick returns a variant chosen uniformly at random.
func (s *VariantSet) Pick(rng *rand.Rand) string {
	return s.variants[rng.Intn(len(s.variants))]
}

// Variants returns a copy of the variants in order.
func (s *VariantSet) Variants() []string {
	return append([]string(nil), s.variants...)
}

// Canonical returns the digits-only code shared by all variants.
func (s *VariantSet) Canonical() string {
	return s.canonical
}

// Len returns the number of variants.
func (s *VariantSet) Len() int {
	return len(s.variants)
}

// Normalize strips every non-digit from raw. It returns "" unless exactly
// eight digits remain.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() != CodeLength {
		return ""
	}
	return b.String()
}
