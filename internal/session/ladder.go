package session

import "fmt"

// ExtractionMethod is one rung of the cost-ordered extraction ladder.
type ExtractionMethod int

const (
	// MethodStructuredParse reads embedded structured data. Free.
	MethodStructuredParse ExtractionMethod = iota
	// MethodPatternExtract applies known text patterns. Free.
	MethodPatternExtract
	// MethodPageFetch fetches a page; spends a search call.
	MethodPageFetch
	// MethodUnlock routes through an anti-block provider. Paid.
	MethodUnlock
	// MethodAIExtract sends content to an AI extractor. Paid.
	MethodAIExtract

	methodCount
)

func (m ExtractionMethod) String() string {
	switch m {
	case MethodStructuredParse:
		return "structured_parse"
	case MethodPatternExtract:
		return "pattern_extract"
	case MethodPageFetch:
		return "page_fetch"
	case MethodUnlock:
		return "unlock"
	case MethodAIExtract:
		return "ai_extract"
	default:
		return fmt.Sprintf("extraction_method(%d)", int(m))
	}
}

// NextExtractionMethod walks the ladder starting at level, skipping rungs
// whose budget is exhausted. The free rungs are always available. Returns
// false when nothing affordable remains at or above level.
func (s *Session) NextExtractionMethod(level ExtractionMethod) (ExtractionMethod, bool) {
	if level < MethodStructuredParse {
		level = MethodStructuredParse
	}
	for m := level; m < methodCount; m++ {
		if s.affordable(m) {
			return m, true
		}
	}
	return 0, false
}

func (s *Session) affordable(m ExtractionMethod) bool {
	if s.OverTime() {
		return false
	}
	switch m {
	case MethodStructuredParse, MethodPatternExtract:
		return true
	case MethodPageFetch:
		return s.searchCalls < s.preset.MaxSearchCalls
	case MethodUnlock:
		return s.unlockCalls < s.preset.MaxUnlockCalls
	case MethodAIExtract:
		return s.aiExtractCalls < s.preset.MaxAIExtractCalls
	default:
		return false
	}
}
