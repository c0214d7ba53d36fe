package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/rag/tokens"
)

func repeatSentence(s string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(s)
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}

func threeParagraphDoc() string {
	p1 := repeatSentence("The quick brown fox jumps over the lazy dog.", 7)
	p2 := repeatSentence("A committee of sleepy owls convened at midnight to review the minutes.", 5)
	p3 := repeatSentence("Rivers carve their valleys slowly and without any particular hurry.", 5)
	return p1 + "\n\n" + p2 + "\n\n" + p3
}

func TestSplitEmptyAndWhitespaceInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t\n"} {
		if got := Split("doc", "t", "u", in, Options{PreserveParagraphs: true}); len(got) != 0 {
			t.Fatalf("input %q: want 0 chunks, got %d", in, len(got))
		}
	}
}

func TestSplitDropsDocumentsBelowMinimum(t *testing.T) {
	// Anything estimated under MinChunkSizeTokens is excluded from ingestion,
	// not emitted as a single small chunk. Assert across several lengths.
	for _, n := range []int{1, 10, 40} {
		in := strings.Repeat("ab", n) // 2n chars => ~n/2 tokens
		got := Split("doc", "t", "u", in, Options{
			ChunkSizeTokens:    200,
			MinChunkSizeTokens: 50,
			PreserveParagraphs: true,
		})
		if len(got) != 0 {
			t.Fatalf("len=%d chars: want 0 chunks, got %d", 2*n, len(got))
		}
	}
}

func TestSplitParagraphOrderAndIndices(t *testing.T) {
	doc := threeParagraphDoc()
	chunks := Split("doc-1", "Title", "user-1", doc, Options{
		ChunkSizeTokens:    60,
		OverlapTokens:      10,
		MinChunkSizeTokens: 5,
		PreserveParagraphs: true,
	})
	if len(chunks) < 2 {
		t.Fatalf("want at least 2 chunks, got %d", len(chunks))
	}

	seen := map[int]bool{}
	for i, c := range chunks {
		if c.Text == "" {
			t.Fatalf("chunk %d is empty", i)
		}
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if seen[c.ChunkIndex] {
			t.Fatalf("duplicate chunk index %d", c.ChunkIndex)
		}
		seen[c.ChunkIndex] = true
		if c.ID != fmt.Sprintf("doc-1_%d", i) {
			t.Fatalf("chunk %d id: got %q", i, c.ID)
		}
		if c.StartOffset >= c.EndOffset {
			t.Fatalf("chunk %d offsets inverted: start=%d end=%d", i, c.StartOffset, c.EndOffset)
		}
		if c.DocumentID != "doc-1" || c.UserID != "user-1" || c.DocumentTitle != "Title" {
			t.Fatalf("chunk %d lost document metadata: %+v", i, c)
		}
		if c.TotalChunks != len(chunks) {
			t.Fatalf("chunk %d total=%d want %d", i, c.TotalChunks, len(chunks))
		}
	}

	// Every source paragraph appears somewhere, in order.
	lastFound := -1
	for _, para := range strings.Split(doc, "\n\n") {
		head := para[:40]
		found := -1
		for i, c := range chunks {
			if strings.Contains(c.Text, head) {
				found = i
				break
			}
		}
		if found < 0 {
			t.Fatalf("paragraph starting %q missing from all chunks", head)
		}
		if found < lastFound {
			t.Fatalf("paragraph order not preserved (chunk %d after %d)", found, lastFound)
		}
		lastFound = found
	}
}

func TestSplitAdjacentChunksOverlap(t *testing.T) {
	doc := threeParagraphDoc()
	chunks := Split("doc", "t", "u", doc, Options{
		ChunkSizeTokens:    60,
		OverlapTokens:      15,
		MinChunkSizeTokens: 5,
		PreserveParagraphs: true,
	})
	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		// The successor chunk is seeded with the predecessor's overlap tail.
		lead := strings.Split(cur.Text, "\n\n")[0]
		if lead == "" || !strings.Contains(prev.Text, lead) {
			t.Fatalf("chunk %d does not overlap its predecessor; lead=%q", i, lead)
		}
		if strings.HasPrefix(lead, " ") {
			t.Fatalf("chunk %d starts with whitespace", i)
		}
	}
}

func TestSplitNoChunkStartsMidWord(t *testing.T) {
	doc := threeParagraphDoc()
	words := map[string]bool{}
	for _, w := range strings.Fields(doc) {
		words[strings.Trim(w, ".,!?")] = true
	}
	chunks := Split("doc", "t", "u", doc, Options{
		ChunkSizeTokens:    50,
		OverlapTokens:      12,
		MinChunkSizeTokens: 5,
		PreserveParagraphs: true,
	})
	for i, c := range chunks {
		first := strings.Trim(strings.Fields(c.Text)[0], ".,!?")
		if !words[first] {
			t.Fatalf("chunk %d starts mid-word: %q", i, first)
		}
	}
}

func TestSplitScenario900CharsThreeParagraphs(t *testing.T) {
	// 3 paragraphs, ~900 chars, chunkSize=200 tokens, overlap=50.
	para := repeatSentence("Migratory birds navigate by the stars and by magnetic fields.", 5)
	doc := para + "\n\n" + para + "\n\n" + para
	chunks := Split("doc", "t", "u", doc, Options{
		ChunkSizeTokens:    200,
		OverlapTokens:      50,
		MinChunkSizeTokens: 10,
		PreserveParagraphs: true,
	})
	if len(chunks) < 2 {
		t.Fatalf("want 2+ chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if est := tokens.Estimate(c.Text); est > 260 {
			t.Fatalf("chunk %d is %d tokens; want <= ~250", i, est)
		}
	}
	// Second chunk leads with the first chunk's trailing slice.
	lead := strings.Split(chunks[1].Text, "\n\n")[0]
	if !strings.HasSuffix(strings.TrimSpace(chunks[0].Text), strings.TrimSpace(lead)) {
		t.Fatalf("second chunk's lead is not the first chunk's tail:\nlead=%q", lead)
	}
}

func TestSplitFixedWindowMode(t *testing.T) {
	doc := repeatSentence("Plain windows stride across the text without paragraph awareness.", 30)
	chunks := Split("doc", "t", "u", doc, Options{
		ChunkSizeTokens:    60,
		OverlapTokens:      10,
		MinChunkSizeTokens: 5,
		PreserveParagraphs: false,
	})
	if len(chunks) < 3 {
		t.Fatalf("want several window chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartOffset >= chunks[i-1].EndOffset {
			t.Fatalf("windows %d and %d do not overlap", i-1, i)
		}
	}
}
