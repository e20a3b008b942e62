package priority

import (
	"testing"

	"github.com/mangamerged/mangamerged/internal/config"
)

func TestGetPriorityOrDefaultReturnsConfiguredRank(t *testing.T) {
	s := New(&config.SourcePriority{Sources: []string{"SourceA", "SourceB"}})

	if got := s.GetPriorityOrDefault("SourceA"); got != 0 {
		t.Errorf("GetPriorityOrDefault(SourceA) = %d, want 0", got)
	}
	if got := s.GetPriorityOrDefault("SourceB"); got != 1 {
		t.Errorf("GetPriorityOrDefault(SourceB) = %d, want 1", got)
	}
}

func TestGetPriorityOrDefaultFallsBackForUnconfiguredSource(t *testing.T) {
	s := New(&config.SourcePriority{Sources: []string{"SourceA"}})
	if got := s.GetPriorityOrDefault("SourceZ"); got != DefaultRank {
		t.Errorf("GetPriorityOrDefault(SourceZ) = %d, want %d", got, DefaultRank)
	}
}

func TestGetPriorityOrDefaultIsCaseSensitive(t *testing.T) {
	s := New(&config.SourcePriority{Sources: []string{"SourceA"}})
	if got := s.GetPriorityOrDefault("sourcea"); got != DefaultRank {
		t.Errorf("GetPriorityOrDefault(sourcea) = %d, want %d (ordinal comparison)", got, DefaultRank)
	}
}

func TestNewWithNilPriorityAlwaysReturnsDefault(t *testing.T) {
	s := New(nil)
	if got := s.GetPriorityOrDefault("Anything"); got != DefaultRank {
		t.Errorf("GetPriorityOrDefault(Anything) = %d, want %d", got, DefaultRank)
	}
}
