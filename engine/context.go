package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// AssembleContext joins retrieved chunks into a single prompt context
// string, in rank order, within a character budget.
//
// Each chunk is annotated with its source document and chunk ordinal:
//
//	[doc <document_id> chunk <chunk_index>]
//	<text>
//
// Chunks are included whole until one would overflow the budget; that
// chunk is truncated to the remaining room and assembly stops. The
// budget counts characters (runes), annotations and separators
// included.
func AssembleContext(results []RetrievedChunk, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}

	var b strings.Builder

	used := 0

	for _, r := range results {
		sep := ""
		if b.Len() > 0 {
			sep = "\n\n"
		}

		header := fmt.Sprintf("[doc %s chunk %d]\n", r.Chunk.DocumentID, r.Chunk.ChunkIndex)
		overhead := len(sep) + utf8.RuneCountInString(header)
		textLen := utf8.RuneCountInString(r.Chunk.Text)

		if used+overhead+textLen <= maxChars {
			b.WriteString(sep)
			b.WriteString(header)
			b.WriteString(r.Chunk.Text)
			used += overhead + textLen

			continue
		}

		if remaining := maxChars - used - overhead; remaining > 0 {
			b.WriteString(sep)
			b.WriteString(header)
			b.WriteString(truncateRunes(r.Chunk.Text, remaining))
		}

		break
	}

	return b.String()
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}

	seen := 0
	for i := range s {
		if seen == n {
			return s[:i]
		}
		seen++
	}

	return s
}
