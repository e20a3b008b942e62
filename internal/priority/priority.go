// Package priority implements the priority service: resolving a source
// volume's precedence rank from the configured source-priority list.
package priority

import (
	"math"

	"github.com/mangamerged/mangamerged/internal/config"
)

// DefaultRank is returned by GetPriorityOrDefault when source_name is
// not present in the configured priority list.
const DefaultRank = math.MaxInt32

// Service resolves a source name to its configured 0-based precedence
// rank, using ordinal (case-sensitive) name comparison.
type Service struct {
	ranks map[string]int
}

// New builds a Service from the configured source-priority list.
func New(sourcePriority *config.SourcePriority) *Service {
	s := &Service{ranks: make(map[string]int)}
	if sourcePriority == nil {
		return s
	}
	for i, name := range sourcePriority.Sources {
		s.ranks[name] = i
	}
	return s
}

// GetPriorityOrDefault returns the configured 0-based rank for
// sourceName, or DefaultRank when it is not configured.
func (s *Service) GetPriorityOrDefault(sourceName string) int {
	if rank, ok := s.ranks[sourceName]; ok {
		return rank
	}
	return DefaultRank
}
