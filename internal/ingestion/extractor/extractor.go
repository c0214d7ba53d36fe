package extractor

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

const opExtract = "extractor.extract_text"

// Result reports one extraction attempt. QualityScore is the fraction of
// printable text in the output; callers below ~0.5 should treat the document
// as garbage rather than index it.
type Result struct {
	Success      bool    `json:"success"`
	Text         string  `json:"text"`
	QualityScore float64 `json:"quality_score"`
	Method       string  `json:"method"`
}

type Extractor interface {
	Supports(filename string) bool
	ExtractText(ctx context.Context, filename string, data []byte) (Result, error)
}

// plaintext handles the formats that are already text on disk. Binary
// formats (PDF, DOCX) arrive pre-extracted from the upload pipeline.
type plaintext struct {
	log *logger.Logger
}

func NewPlaintext(log *logger.Logger) Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &plaintext{log: log.With("component", "plaintext_extractor")}
}

var plaintextExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".log":      true,
	".text":     true,
}

func (p *plaintext) Supports(filename string) bool {
	return plaintextExtensions[strings.ToLower(filepath.Ext(filename))]
}

func (p *plaintext) ExtractText(ctx context.Context, filename string, data []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, faults.Wrap(faults.KindTransient, opExtract, err)
	}
	if !p.Supports(filename) {
		return Result{}, faults.New(faults.KindValidation, opExtract,
			"unsupported file type "+strings.ToLower(filepath.Ext(filename)))
	}
	if len(data) == 0 {
		return Result{Success: false, Method: "plaintext"}, nil
	}

	text := normalize(data)
	if strings.TrimSpace(text) == "" {
		return Result{Success: false, Method: "plaintext"}, nil
	}

	score := printableRatio(text)
	return Result{
		Success:      score >= 0.5,
		Text:         text,
		QualityScore: score,
		Method:       "plaintext",
	}, nil
}

// normalize strips a UTF-8 BOM, folds line endings to \n, replaces invalid
// byte sequences, and drops non-printing control characters.
func normalize(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	var b strings.Builder
	b.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		switch {
		case r == utf8.RuneError && size == 1:
			// skip invalid byte
		case r == '\r':
			if len(data) == 0 || data[0] != '\n' {
				b.WriteByte('\n')
			}
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			// skip
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}
