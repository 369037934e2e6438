package identity

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"annothub/pkg/models"
)

// ErrInvalidIdentifier means the raw identifier cannot be normalized
// into its declared type.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var (
	doiRe  = regexp.MustCompile(`^10\.\d{4,}/\S+$`)
	isbnRe = regexp.MustCompile(`^(?:\d{9}[\dXx]|\d{13})$`)
	pmidRe = regexp.MustCompile(`^\d+$`)

	doiPrefixes = []string{
		"doi:",
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi.org/",
		"dx.doi.org/",
	}

	nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// Normalize maps a raw external identifier to its canonical form.
// Pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(id models.Identifier) (string, error) {
	raw := strings.TrimSpace(id.Value)
	if raw == "" {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidIdentifier, id.Type)
	}

	switch id.Type {
	case models.IdentifierDOI:
		return normalizeDOI(raw)
	case models.IdentifierISBN:
		return normalizeISBN(raw)
	case models.IdentifierPMID:
		if !pmidRe.MatchString(raw) {
			return "", fmt.Errorf("%w: malformed pmid %q", ErrInvalidIdentifier, raw)
		}
		return raw, nil
	case models.IdentifierPlatformKey:
		return raw, nil
	default:
		return "", fmt.Errorf("%w: unknown identifier type %q", ErrInvalidIdentifier, id.Type)
	}
}

func normalizeDOI(raw string) (string, error) {
	doi := strings.TrimSpace(raw)
	lower := strings.ToLower(doi)
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(lower, prefix) {
			doi = doi[len(prefix):]
			break
		}
	}

	// PathUnescape, not QueryUnescape: "+" is a literal character in a
	// DOI suffix, only percent escapes decode.
	if decoded, err := url.PathUnescape(doi); err == nil {
		doi = decoded
	}
	doi = strings.ToLower(strings.TrimSpace(doi))

	if !doiRe.MatchString(doi) {
		return "", fmt.Errorf("%w: malformed doi %q", ErrInvalidIdentifier, raw)
	}
	return doi, nil
}

func normalizeISBN(raw string) (string, error) {
	isbn := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(raw))
	if !isbnRe.MatchString(strings.ToLower(isbn)) {
		return "", fmt.Errorf("%w: malformed isbn %q", ErrInvalidIdentifier, raw)
	}
	return isbn, nil
}

// DocumentID derives the canonical document id for an identifier:
// "<type>_<normalized>" with runs of non-alphanumerics replaced by "_".
// Deterministic with no storage round trip, so every client derives the
// same id for the same document.
func DocumentID(id models.Identifier) (string, error) {
	normalized, err := Normalize(id)
	if err != nil {
		return "", err
	}
	safe := strings.Trim(nonAlnumRe.ReplaceAllString(normalized, "_"), "_")
	return fmt.Sprintf("%s_%s", id.Type, safe), nil
}
