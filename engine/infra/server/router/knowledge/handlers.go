package knowledgerouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/compozy/policyrag/engine/infra/server/router"
	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/ingest"
	"github.com/compozy/policyrag/engine/knowledge/uc"
	"github.com/compozy/policyrag/pkg/logger"
)

const (
	uploadField = "files"
	bannerText  = "Health Insurance RAG API is running"
)

// Service is the subset of uc.Runtime the handlers call.
type Service interface {
	Ingest(ctx context.Context, raw []byte, filename string) (*uc.IngestOutput, error)
	Answer(ctx context.Context, question string, topK int) (*knowledge.AnswerResult, error)
	ResetCorpus(ctx context.Context) (*uc.ResetOutput, error)
	ListDocuments(ctx context.Context) ([]knowledge.Document, error)
	Reconcile(ctx context.Context) (*ingest.ReconcileReport, error)
}

type Options struct {
	AllowedExtensions []string
	DefaultTopK       int
	IngestTimeout     time.Duration
	QueryTimeout      time.Duration
}

type handlers struct {
	svc  Service
	opts Options
}

func newHandlers(svc Service, opts Options) *handlers {
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = []string{".pdf"}
	}
	normalized := make([]string, 0, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	opts.AllowedExtensions = normalized
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = knowledge.DefaultTopK
	}
	return &handlers{svc: svc, opts: opts}
}

// root handles GET /.
func (h *handlers) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": bannerText})
}

// upload handles POST /upload. Files with other extensions are skipped.
// A consistency gap does not fail the request; it is listed under "gaps".
func (h *handlers) upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondBindError(c, err)
		return
	}
	files := form.File[uploadField]
	if len(files) == 0 {
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.KnowledgeErrInvalidInputCode,
			fmt.Sprintf("multipart field %q must contain at least one file", uploadField))
		return
	}
	ctx, cancel := withTimeout(c.Request.Context(), h.opts.IngestTimeout)
	defer cancel()
	log := logger.FromContext(ctx)
	resp := UploadResponse{Documents: []knowledge.Document{}, Gaps: []GapDTO{}}
	for _, file := range files {
		if !h.allowed(file.Filename) {
			log.Debug("Skipping upload with unsupported extension", "filename", file.Filename)
			continue
		}
		raw, err := readUpload(file)
		if err != nil {
			respondBindError(c, err)
			return
		}
		log.Debug("Upload received", "filename", file.Filename, "bytes", len(raw), "content_type", mimetype.Detect(raw).String())
		out, err := h.svc.Ingest(ctx, raw, file.Filename)
		if gap, ok := knowledge.AsConsistencyGap(err); ok && out != nil {
			resp.Documents = append(resp.Documents, out.Document)
			resp.Gaps = append(resp.Gaps, ToGapDTO(gap))
			continue
		}
		if err != nil {
			respondKnowledgeError(c, fmt.Errorf("%s: %w", file.Filename, err))
			return
		}
		resp.Documents = append(resp.Documents, out.Document)
	}
	resp.Message = fmt.Sprintf("Successfully processed %d documents", len(resp.Documents))
	c.JSON(http.StatusOK, resp)
}

// query handles POST /query.
func (h *handlers) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.KnowledgeErrInvalidInputCode, "invalid request body: "+err.Error())
		return
	}
	topK := h.opts.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
		if topK <= 0 {
			router.RespondProblemWithCode(c, http.StatusBadRequest, router.KnowledgeErrInvalidInputCode, "top_k must be positive")
			return
		}
	}
	ctx, cancel := withTimeout(c.Request.Context(), h.opts.QueryTimeout)
	defer cancel()
	result, err := h.svc.Answer(ctx, req.Question, topK)
	if err != nil {
		respondKnowledgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// listDocuments handles GET /documents, newest first.
func (h *handlers) listDocuments(c *gin.Context) {
	docs, err := h.svc.ListDocuments(c.Request.Context())
	if err != nil {
		respondKnowledgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// deleteDocuments handles DELETE /documents.
func (h *handlers) deleteDocuments(c *gin.Context) {
	out, err := h.svc.ResetCorpus(c.Request.Context())
	if err != nil {
		respondKnowledgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{
		Message: fmt.Sprintf("Deleted %d documents from database and cleared vector store", out.Documents),
		Deleted: out.Documents,
		Vectors: out.Vectors,
	})
}

// reconcile handles POST /reconcile.
func (h *handlers) reconcile(c *gin.Context) {
	report, err := h.svc.Reconcile(c.Request.Context())
	if err != nil {
		respondKnowledgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) allowed(filename string) bool {
	return slices.Contains(h.opts.AllowedExtensions, strings.ToLower(filepath.Ext(filename)))
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Filename, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Filename, err)
	}
	return raw, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func respondBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		router.RespondProblemWithCode(c, http.StatusRequestEntityTooLarge, router.ErrPayloadTooLargeCode,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	router.RespondProblemWithCode(c, http.StatusBadRequest, router.KnowledgeErrInvalidInputCode, err.Error())
}

// respondKnowledgeError maps pipeline error kinds onto HTTP statuses.
func respondKnowledgeError(c *gin.Context, err error) {
	status, code := classify(err)
	router.RespondProblemWithCode(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	if errors.Is(err, uc.ErrInvalidInput) {
		return http.StatusBadRequest, router.KnowledgeErrInvalidInputCode
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, router.ErrRequestTimeoutCode
	}
	kind, ok := knowledge.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, router.ErrInternalCode
	}
	switch kind {
	case knowledge.KindExtraction:
		return http.StatusUnprocessableEntity, router.KnowledgeErrExtractionCode
	case knowledge.KindEmbedding:
		return http.StatusBadGateway, router.KnowledgeErrEmbeddingCode
	case knowledge.KindGeneration:
		return http.StatusBadGateway, router.KnowledgeErrGenerationCode
	case knowledge.KindIndex:
		return http.StatusBadGateway, router.KnowledgeErrIndexCode
	default:
		return http.StatusInternalServerError, router.ErrInternalCode
	}
}
