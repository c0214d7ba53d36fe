package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/http/middleware"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/http/response"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/ingestion/extractor"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/llm"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/services"
)

// maxUploadBytes bounds how much file content one upload may carry.
const maxUploadBytes = 10 << 20

type DocumentHandler struct {
	rag       services.RAGService
	extractor extractor.Extractor
}

func NewDocumentHandler(rag services.RAGService, ext extractor.Extractor) *DocumentHandler {
	return &DocumentHandler{rag: rag, extractor: ext}
}

type ingestReq struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// POST /api/documents
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req ingestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.rag.IngestDocument(c.Request.Context(), services.IngestRequest{
		UserID: middleware.UserID(c),
		Title:  req.Title,
		Text:   req.Text,
	})
	if err != nil {
		response.RespondFault(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/documents/upload
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	if fileHeader.Size > maxUploadBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			errors.New("file exceeds the 10 MiB upload limit"))
		return
	}
	if !h.extractor.Supports(fileHeader.Filename) {
		response.RespondError(c, http.StatusBadRequest, "unsupported_file_type",
			errors.New("no text extractor for this file type"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	extracted, err := h.extractor.ExtractText(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		response.RespondFault(c, err)
		return
	}
	if !extracted.Success {
		response.RespondError(c, http.StatusUnprocessableEntity, "extraction_failed",
			errors.New("could not extract readable text from the file"))
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = fileHeader.Filename
	}
	res, err := h.rag.IngestDocument(c.Request.Context(), services.IngestRequest{
		UserID: middleware.UserID(c),
		Title:  title,
		Text:   extracted.Text,
	})
	if err != nil {
		response.RespondFault(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/documents
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.rag.ListDocuments(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.RespondFault(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	if err := h.rag.DeleteDocument(c.Request.Context(), middleware.UserID(c), id); err != nil {
		response.RespondFault(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": id})
}

type summaryReq struct {
	Length string `json:"length"`
}

// POST /api/documents/:id/summary
func (h *DocumentHandler) Summarize(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	// Body is optional; an absent or empty length means a short summary.
	var req summaryReq
	_ = c.ShouldBindJSON(&req)
	length := llm.SummaryShort
	switch req.Length {
	case "", string(llm.SummaryShort):
	case string(llm.SummaryMedium):
		length = llm.SummaryMedium
	case string(llm.SummaryLong):
		length = llm.SummaryLong
	default:
		response.RespondError(c, http.StatusBadRequest, "invalid_length",
			errors.New("length must be short, medium or long"))
		return
	}
	summary, err := h.rag.SummarizeDocument(c.Request.Context(), middleware.UserID(c), id, length)
	if err != nil {
		response.RespondFault(c, err)
		return
	}
	response.RespondOK(c, gin.H{"summary": summary})
}
