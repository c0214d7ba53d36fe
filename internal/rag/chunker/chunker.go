// Package chunker splits raw document text into overlapping chunks with
// stable, deterministic identifiers. It is pure: no I/O, no clocks.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/rag/tokens"
)

const (
	DefaultChunkSizeTokens    = 500
	DefaultOverlapTokens      = 50
	DefaultMinChunkSizeTokens = 50
)

type Options struct {
	ChunkSizeTokens    int
	OverlapTokens      int
	PreserveParagraphs bool
	MinChunkSizeTokens int
}

func (o Options) withDefaults() Options {
	if o.ChunkSizeTokens <= 0 {
		o.ChunkSizeTokens = DefaultChunkSizeTokens
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.OverlapTokens >= o.ChunkSizeTokens {
		o.OverlapTokens = o.ChunkSizeTokens / 4
	}
	if o.MinChunkSizeTokens <= 0 {
		o.MinChunkSizeTokens = DefaultMinChunkSizeTokens
	}
	return o
}

// Split chunks text for one document. Whitespace-only input yields zero
// chunks, as does input estimated below MinChunkSizeTokens: short documents
// are excluded from ingestion entirely rather than emitted as an under-sized
// chunk. The same policy drops a too-short trailing buffer, so the very end
// of a document can be lost if it is tiny.
func Split(documentID, documentTitle, userID, text string, opts Options) []domain.DocumentChunk {
	opts = opts.withDefaults()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if tokens.Estimate(text) < opts.MinChunkSizeTokens {
		return nil
	}

	var pieces []piece
	if opts.PreserveParagraphs {
		pieces = splitParagraphAware(text, opts)
	} else {
		pieces = splitFixedWindow(text, opts)
	}

	out := make([]domain.DocumentChunk, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, domain.DocumentChunk{
			ID:            fmt.Sprintf("%s_%d", documentID, i),
			Text:          p.text,
			ChunkIndex:    i,
			StartOffset:   p.start,
			EndOffset:     p.end,
			DocumentID:    documentID,
			DocumentTitle: documentTitle,
			UserID:        userID,
			TotalChunks:   len(pieces),
		})
	}
	return out
}

type piece struct {
	text  string
	start int
	end   int
}

type paragraph struct {
	text  string
	start int
	end   int
}

// splitParagraphs walks the text once, cutting on blank-line boundaries while
// keeping rune offsets into the original.
func splitParagraphs(text string) []paragraph {
	var paras []paragraph
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		// Skip leading whitespace between paragraphs.
		for i < len(runes) && isSpaceRune(runes[i]) {
			i++
		}
		if i >= len(runes) {
			break
		}
		start := i
		end := i
		for i < len(runes) {
			if runes[i] == '\n' && nextNonBlankLineBreak(runes, i) {
				break
			}
			if !isSpaceRune(runes[i]) {
				end = i + 1
			}
			i++
		}
		paras = append(paras, paragraph{
			text:  string(runes[start:end]),
			start: start,
			end:   end,
		})
	}
	return paras
}

// nextNonBlankLineBreak reports whether the newline at idx is followed by a
// blank line, i.e. a paragraph boundary.
func nextNonBlankLineBreak(runes []rune, idx int) bool {
	j := idx + 1
	for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\r') {
		j++
	}
	return j < len(runes) && runes[j] == '\n'
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func splitParagraphAware(text string, opts Options) []piece {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var out []piece
	var buf strings.Builder
	bufStart := paras[0].start
	bufEnd := paras[0].start

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, piece{text: buf.String(), start: bufStart, end: bufEnd})
	}

	for _, para := range paras {
		candidate := para.text
		if buf.Len() > 0 {
			candidate = buf.String() + "\n\n" + para.text
		}
		if buf.Len() > 0 && tokens.Estimate(candidate) > opts.ChunkSizeTokens {
			flush()
			tail := overlapTail(buf.String(), opts.OverlapTokens)
			buf.Reset()
			if tail != "" {
				buf.WriteString(tail)
				buf.WriteString("\n\n")
				bufStart = bufEnd - utf8.RuneCountInString(tail)
				if bufStart < 0 {
					bufStart = 0
				}
			} else {
				bufStart = para.start
			}
			buf.WriteString(para.text)
			bufEnd = para.end
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		} else {
			bufStart = para.start
		}
		buf.WriteString(para.text)
		bufEnd = para.end
	}

	// Trailing buffer: dropped silently when below the minimum.
	if buf.Len() > 0 && tokens.Estimate(buf.String()) >= opts.MinChunkSizeTokens {
		flush()
	}
	return out
}

// splitFixedWindow strides size-overlap over runes, the plain mode used when
// paragraph structure is not worth preserving.
func splitFixedWindow(text string, opts Options) []piece {
	runes := []rune(text)
	size := tokens.Chars(opts.ChunkSizeTokens)
	overlap := tokens.Chars(opts.OverlapTokens)
	stride := size - overlap
	if stride <= 0 {
		stride = size
	}

	var out []piece
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := strings.TrimSpace(string(runes[start:end]))
		if window == "" {
			break
		}
		if end == len(runes) && len(out) > 0 && tokens.Estimate(window) < opts.MinChunkSizeTokens {
			break
		}
		out = append(out, piece{text: window, start: start, end: end})
		if end == len(runes) {
			break
		}
	}
	return out
}

// overlapTail returns the last overlapTokens worth of characters from emitted,
// trimmed forward to the nearest sentence or word boundary so the next chunk
// never starts mid-word.
func overlapTail(emitted string, overlapTokens int) string {
	if overlapTokens <= 0 {
		return ""
	}
	runes := []rune(emitted)
	want := tokens.Chars(overlapTokens)
	if want >= len(runes) {
		return strings.TrimSpace(emitted)
	}
	tail := string(runes[len(runes)-want:])

	// Prefer starting after a sentence terminator inside the tail.
	for _, term := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.Index(tail, term); idx >= 0 {
			trimmed := strings.TrimSpace(tail[idx+len(term):])
			if trimmed != "" {
				return trimmed
			}
		}
	}
	// Otherwise advance to the next word boundary.
	if idx := strings.IndexAny(tail, " \t\n"); idx >= 0 {
		return strings.TrimSpace(tail[idx:])
	}
	return strings.TrimSpace(tail)
}
