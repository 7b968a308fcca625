package analysis

import (
	"errors"
	"fmt"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

// ErrInsufficientSources is returned when a batch holds too few raw exports
// and no pre-analyzed document.
var ErrInsufficientSources = errors.New("insufficient sources")

// CheckSufficiency accepts any batch containing a pre-analyzed source and
// otherwise requires at least minSources raw exports.
func CheckSufficiency(sources []dataset.RawSource, minSources int) error {
	raw := 0
	for _, src := range sources {
		if src.PreAnalyzed {
			return nil
		}
		raw++
	}
	if raw < minSources {
		return fmt.Errorf("%w: got %d raw exports, need at least %d", ErrInsufficientSources, raw, minSources)
	}
	return nil
}
