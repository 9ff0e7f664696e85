package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jo-hoe/shopglot/internal/catalog"
	"github.com/jo-hoe/shopglot/internal/common"
	"github.com/jo-hoe/shopglot/internal/config"
	"github.com/jo-hoe/shopglot/internal/csvimport"
	"github.com/jo-hoe/shopglot/internal/executor"
	"github.com/jo-hoe/shopglot/internal/jobs"
	"github.com/jo-hoe/shopglot/internal/manifest"
	"github.com/jo-hoe/shopglot/internal/metrics"
	"github.com/jo-hoe/shopglot/internal/processor"
	"github.com/jo-hoe/shopglot/internal/resume"
	"github.com/jo-hoe/shopglot/internal/stats"
	"github.com/jo-hoe/shopglot/internal/vision"
)

// Service wires the pipeline components behind the HTTP surface.
type Service struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Store    jobs.Store
	Steps    *processor.StepProcessor
	Executor *executor.Executor
	Resume   *resume.Controller
	Catalog  catalog.Client // nil when no catalog is configured
	Stats    *stats.Tracker

	// Generate and Balance are optional provider capabilities; nil when the
	// configured vision provider does not support them.
	Generate vision.Generator
	Balance  vision.BalanceProvider

	// RunCtx bounds background executor runs; cancelled on shutdown.
	RunCtx context.Context
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle(http.MethodGet+" "+common.PathMetrics, promhttp.Handler())

	mux.HandleFunc(http.MethodPost+" "+common.PathProcessImage, svc.withCommon(svc.handleProcessImage))
	mux.HandleFunc(http.MethodGet+" "+common.PathProducts, svc.withCommon(svc.handleListProducts))
	mux.HandleFunc(http.MethodPost+" "+common.PathJobs, svc.withCommon(svc.handleCreateJob))
	mux.HandleFunc(http.MethodPost+" "+common.PathJobsCSV, svc.withCommon(svc.handleCreateCSVJob))
	mux.HandleFunc(http.MethodGet+" "+common.PathActiveJob, svc.withCommon(svc.handleGetActiveJob))
	mux.HandleFunc(http.MethodPost+" "+common.PathResumeJob, svc.withCommon(svc.handleResumeJob))
	mux.HandleFunc(http.MethodDelete+" "+common.PathActiveJob, svc.withCommon(svc.handleDiscardJob))
	mux.HandleFunc(http.MethodGet+" "+common.PathStats, svc.withCommon(svc.handleGetStats))
	mux.HandleFunc(http.MethodPost+" "+common.PathGenerate, svc.withCommon(svc.handleGenerate))
	mux.HandleFunc(http.MethodGet+" "+common.PathBalance, svc.withCommon(svc.handleGetBalance))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if max := svc.Cfg.Server.MaxBodySize; max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

// ── atomic step endpoint ──

type processImageRequest struct {
	ProductID    int64   `json:"productId"`
	ImageID      int64   `json:"imageId,omitempty"`
	ImageBase64  string  `json:"imageBase64"`
	MimeType     string  `json:"mimeType"`
	VariantIDs   []int64 `json:"variantIds,omitempty"`
	ReturnBase64 bool    `json:"returnBase64,omitempty"` // description/local flows: translate only, return the image
}

type processImageResponse struct {
	Result      string `json:"result"` // "skipped" | "translated"
	NewImageID  int64  `json:"newImageId,omitempty"`
	NewImageSrc string `json:"newImageSrc,omitempty"`
	B64         string `json:"b64,omitempty"`
}

// handleProcessImage runs the detect/translate/publish/reassociate/cleanup
// sequence server-side, so a client dropping mid-step still sees the
// operation finish.
func (svc *Service) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	var req processImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ImageBase64) == "" {
		writeError(w, http.StatusBadRequest, "imageBase64 is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid imageBase64")
		return
	}
	mime := req.MimeType
	if mime == "" {
		mime = common.MimeImageJPEG
	}

	if req.ReturnBase64 {
		translated, skipped, err := svc.Steps.Translate(r.Context(), data, mime)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if skipped {
			writeJSON(w, http.StatusOK, processImageResponse{Result: string(processor.OutcomeSkipped)})
			return
		}
		svc.recordCost()
		writeJSON(w, http.StatusOK, processImageResponse{
			Result: string(processor.OutcomeTranslated),
			B64:    base64.StdEncoding.EncodeToString(translated),
		})
		return
	}

	if svc.Catalog == nil {
		writeError(w, http.StatusConflict, "no catalog configured")
		return
	}
	res, err := svc.Steps.Process(r.Context(), processor.Request{
		ProductID:  req.ProductID,
		ImageID:    req.ImageID,
		ImageData:  data,
		MimeType:   mime,
		VariantIDs: req.VariantIDs,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if res.Outcome == processor.OutcomeTranslated {
		svc.recordCost()
	}
	writeJSON(w, http.StatusOK, processImageResponse{
		Result:      string(res.Outcome),
		NewImageID:  res.NewImageID,
		NewImageSrc: res.NewImageSrc,
	})
}

// recordCost counts one endpoint-driven paid translation in the durable
// cost record; executor-driven runs record their own.
func (svc *Service) recordCost() {
	metrics.PaidOperations.Inc()
	if svc.Stats == nil {
		return
	}
	if err := svc.Stats.Add(svc.Cfg.Pipeline.ImageCost); err != nil {
		svc.Log.Warn("record cost failed", "err", err)
	}
}

// handleListProducts proxies the catalog's product list so callers can
// assemble a job selection.
func (svc *Service) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if svc.Catalog == nil {
		writeError(w, http.StatusConflict, "no catalog configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	products, err := svc.Catalog.ListProducts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

// ── job endpoints ──

type createJobRequest struct {
	Destination string            `json:"destination"` // "catalog" (default) | "download"
	Products    []catalog.Product `json:"products"`
}

type jobResponse struct {
	JobID       string           `json:"job_id"`
	Destination string           `json:"destination"`
	ItemCount   int              `json:"item_count"`
	Duplicates  int              `json:"duplicates_removed"`
	Running     bool             `json:"running"`
	Summary     executor.Summary `json:"summary"`
	Items       []itemOut        `json:"items,omitempty"`
}

type itemOut struct {
	ProductID     int64  `json:"product_id"`
	ProductHandle string `json:"product_handle"`
	ImageSrc      string `json:"image_src"`
	Status        string `json:"status"`
	ResultImageID int64  `json:"result_image_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (svc *Service) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	dest := jobs.DestinationCatalog
	if strings.EqualFold(req.Destination, string(jobs.DestinationDownload)) {
		dest = jobs.DestinationDownload
	}
	if dest == jobs.DestinationCatalog && svc.Catalog == nil {
		writeError(w, http.StatusConflict, "no catalog configured; use the download destination")
		return
	}
	if len(req.Products) == 0 {
		writeError(w, http.StatusBadRequest, "products are required")
		return
	}
	svc.startJob(w, req.Products, dest)
}

// handleCreateCSVJob accepts a raw storefront export CSV and starts a
// download-destination job for its images.
func (svc *Service) handleCreateCSVJob(w http.ResponseWriter, r *http.Request) {
	products, err := csvimport.ParseProducts(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc.startJob(w, products, jobs.DestinationDownload)
}

func (svc *Service) startJob(w http.ResponseWriter, products []catalog.Product, dest jobs.DestinationKind) {
	if svc.Executor.Running() {
		writeError(w, http.StatusConflict, "a job is already running")
		return
	}
	stored, err := svc.Store.Load()
	if err != nil {
		svc.Log.Error("load stored job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if stored != nil && !stored.Completed() {
		writeError(w, http.StatusConflict, "an incomplete job exists; resume or discard it first")
		return
	}

	job, dups := manifest.Build(products, dest)
	if len(job.Items) == 0 {
		writeError(w, http.StatusBadRequest, "selection contains no images")
		return
	}

	// URL-level duplicates are removed from the destination before any
	// external paid call.
	svc.Executor.DeleteDuplicates(svc.RunCtx, dups)

	if err := svc.Store.Save(job); err != nil {
		svc.Log.Error("persist job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	svc.Log.Info("job created", "job_id", job.ID, "destination", dest, "items", len(job.Items))

	go svc.runJob(job)

	writeJSON(w, http.StatusAccepted, jobResponse{
		JobID:       job.ID,
		Destination: string(dest),
		ItemCount:   len(job.Items),
		Duplicates:  len(dups),
		Running:     true,
	})
}

func (svc *Service) runJob(job *jobs.Job) {
	ctx := svc.RunCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := svc.Executor.Run(ctx, job); err != nil {
		svc.Log.Error("job run stopped", "job_id", job.ID, "err", err)
	}
}

func (svc *Service) handleGetActiveJob(w http.ResponseWriter, r *http.Request) {
	job, err := svc.Store.Load()
	if err != nil {
		svc.Log.Error("load stored job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "no active job")
		return
	}
	writeJSON(w, http.StatusOK, jobToOut(job, svc.Executor.Running()))
}

func (svc *Service) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	if svc.Executor.Running() {
		writeError(w, http.StatusConflict, "a job is already running")
		return
	}
	job, err := svc.Resume.Inspect()
	if err != nil {
		svc.Log.Error("inspect stored job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "no incomplete job to resume")
		return
	}
	if err := svc.Resume.Resume(job); err != nil {
		svc.Log.Error("resume job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	go svc.runJob(job)

	writeJSON(w, http.StatusAccepted, jobToOut(job, true))
}

func (svc *Service) handleDiscardJob(w http.ResponseWriter, r *http.Request) {
	if svc.Executor.Running() {
		writeError(w, http.StatusConflict, "a job is running; wait for it to finish")
		return
	}
	if err := svc.Resume.Discard(); err != nil {
		svc.Log.Error("discard job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	rec, err := svc.Stats.Load()
	if err != nil {
		svc.Log.Error("load cost record", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGenerate renders a fresh image from a text prompt and returns it
// base64 encoded. Paid like any other translation.
func (svc *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if svc.Generate == nil {
		writeError(w, http.StatusConflict, "the configured vision provider does not support image generation")
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	data, err := svc.Generate.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		svc.Log.Error("generate image", "err", err)
		writeError(w, http.StatusBadGateway, "image generation failed")
		return
	}
	svc.recordCost()
	writeJSON(w, http.StatusOK, map[string]string{
		"imageBase64": base64.StdEncoding.EncodeToString(data),
	})
}

// handleGetBalance passes the provider's remaining credit through.
func (svc *Service) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	if svc.Balance == nil {
		writeError(w, http.StatusConflict, "the configured vision provider does not expose a balance")
		return
	}
	bal, err := svc.Balance.Balance(r.Context())
	if err != nil {
		svc.Log.Error("fetch balance", "err", err)
		writeError(w, http.StatusBadGateway, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func jobToOut(job *jobs.Job, running bool) jobResponse {
	out := jobResponse{
		JobID:       job.ID,
		Destination: string(job.Destination),
		ItemCount:   len(job.Items),
		Running:     running,
	}
	for i := range job.Items {
		it := &job.Items[i]
		switch it.Status {
		case jobs.StatusDone:
			out.Summary.Done++
		case jobs.StatusSkipped:
			out.Summary.Skipped++
		case jobs.StatusFailed:
			out.Summary.Failed++
		}
		out.Items = append(out.Items, itemOut{
			ProductID:     it.ProductID,
			ProductHandle: it.ProductHandle,
			ImageSrc:      it.ImageSrc,
			Status:        string(it.Status),
			ResultImageID: it.ResultImageID,
			Error:         it.Error,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
