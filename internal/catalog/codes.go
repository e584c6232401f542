package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultCodePrefix is used when no prefix is configured.
	DefaultCodePrefix = "SP"
	codeSuffixLen     = 5
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts   = 10
	maxCodeLength     = 10
)

// CodeChecker reports whether a code is taken by any product, hidden included.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// SuffixSource yields random code suffixes.
type SuffixSource func() (string, error)

// CodeGenerator produces collision-free product codes of the form PREFIX-XXXXX.
type CodeGenerator struct {
	checker CodeChecker
	prefix  string
	source  SuffixSource
}

// NewCodeGenerator builds a generator. The prefix must leave room for the
// separator and suffix within the 10 character code limit.
func NewCodeGenerator(checker CodeChecker, prefix string) (*CodeGenerator, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	if len(prefix)+1+codeSuffixLen > maxCodeLength {
		return nil, fmt.Errorf("catalog: code prefix %q too long", prefix)
	}
	return &CodeGenerator{checker: checker, prefix: prefix, source: uuidSuffix}, nil
}

// WithSource replaces the randomness source.
func (g *CodeGenerator) WithSource(source SuffixSource) *CodeGenerator {
	g.source = source
	return g
}

// Generate returns an unused code or ErrGenerationExhausted.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		suffix, err := g.source()
		if err != nil {
			return "", fmt.Errorf("catalog: code suffix: %w", err)
		}
		code := g.prefix + "-" + suffix
		exists, err := g.checker.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("catalog: check code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrGenerationExhausted
}

// unbiasedLimit is the largest multiple of the alphabet size that fits in a
// byte. Bytes at or above it are discarded so every symbol is equally likely.
const unbiasedLimit = 256 - 256%len(codeAlphabet)

func uuidSuffix() (string, error) {
	var b strings.Builder
	b.Grow(codeSuffixLen)
	for b.Len() < codeSuffixLen {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		// bytes 6 and 8 carry version and variant bits
		appendSymbols(&b, id[:6])
		appendSymbols(&b, id[7:8])
		appendSymbols(&b, id[9:])
	}
	return b.String(), nil
}

func appendSymbols(b *strings.Builder, random []byte) {
	for _, v := range random {
		if b.Len() == codeSuffixLen {
			return
		}
		if int(v) >= unbiasedLimit {
			continue
		}
		b.WriteByte(codeAlphabet[int(v)%len(codeAlphabet)])
	}
}
