package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/the491/branchledger/internal/api/handlers"
	"github.com/the491/branchledger/internal/api/middleware"
	"github.com/the491/branchledger/internal/categorize"
	"github.com/the491/branchledger/internal/config"
	"github.com/the491/branchledger/internal/extract"
	"github.com/the491/branchledger/internal/images"
	infraBQ "github.com/the491/branchledger/internal/infra/bigquery"
	infraFS "github.com/the491/branchledger/internal/infra/firestore"
	"github.com/the491/branchledger/internal/infra/memory"
	"github.com/the491/branchledger/internal/jobs"
	"github.com/the491/branchledger/internal/jobs/inmemory"
	"github.com/the491/branchledger/internal/ledger"
	"github.com/the491/branchledger/internal/logger"
	"github.com/the491/branchledger/internal/receipt"
	"github.com/the491/branchledger/internal/summary"
)

func main() {
	// Parse command-line flags
	var (
		port     = flag.String("port", "8080", "HTTP server port")
		inMemory = flag.Bool("memory", false, "Use in-memory stores instead of Firestore/BigQuery (local development)")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New("branchledger-api")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	// Initialize stores. Draft receipts and branches live in Firestore, the
	// committed ledger lives in BigQuery. The -memory flag swaps both for
	// in-process stores so the API runs without GCP credentials.
	var (
		receipts   receipt.Repository
		branches   receipt.BranchRepository
		branchesRW handlers.BranchWriter
		rows       ledger.Repository
		closers    []io.Closer
	)
	if *inMemory {
		log.Warn().Msg("Using in-memory stores - all data is lost on shutdown")
		receiptStore := memory.NewReceiptStore()
		branchStore := memory.NewBranchStore()
		receipts = receiptStore
		branches = branchStore
		branchesRW = branchStore
		rows = memory.NewLedgerStore()
	} else {
		fsStore, err := infraFS.NewStore(ctx, cfg.ProjectID, cfg.FirestoreDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Firestore store")
		}
		closers = append(closers, fsStore)
		receipts = fsStore
		branches = fsStore
		branchesRW = fsStore

		bqLedger, err := infraBQ.New(ctx, cfg.ProjectID, cfg.BigQueryDataset, cfg.LedgerTable)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery ledger")
		}
		closers = append(closers, bqLedger)
		rows = bqLedger
	}

	// Core services
	classifier := categorize.NewGeminiClassifier(cfg.GeminiModel)
	categorizer := categorize.New(classifier, cfg.ModelDefaultConfidence, log)
	committer := ledger.NewCommitter(rows, log)
	service := receipt.NewService(receipts, branches, committer, categorizer, cfg.TotalTolerance, log)
	engine := summary.NewEngine(rows, branches, cfg.PrimaryCostCategories, log)

	// Image upload and OCR are optional. Without a bucket and a Document AI
	// processor the upload endpoint returns 503 and the JSON ingestion path
	// still works.
	var (
		imageStore *images.Store
		extractor  extract.Extractor
	)
	if cfg.StorageBucket != "" && cfg.DocAIProcessorID != "" && !*inMemory {
		imageStore, err = images.NewStore(ctx, cfg.StorageBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create image store")
		}
		extractor, err = extract.NewDocumentAI(ctx, cfg.ProjectID, cfg.DocAILocation, cfg.DocAIProcessorID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Document AI extractor")
		}
	} else {
		log.Warn().Msg("No storage bucket or Document AI processor configured - image uploads will be disabled")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	uploadsEnabled := imageStore != nil && extractor != nil
	if uploadsEnabled {
		ingestHandler := jobs.NewIngestHandler(imageStore, extractor, service, log)
		go func() {
			log.Info().Msg("Starting ingestion worker")
			if err := jobQueue.Start(workerCtx, ingestHandler.Handle); err != nil {
				log.Error().Err(err).Msg("Ingestion worker stopped with error")
			}
		}()
	}

	// Initialize handlers
	var (
		receiptImages handlers.ImageStore
		publisher     jobs.Publisher
	)
	if uploadsEnabled {
		receiptImages = imageStore
		publisher = jobQueue
	}
	receiptsHandler := handlers.NewReceiptsHandler(service, receiptImages, publisher, log)
	posHandler := handlers.NewPOSHandler(committer, log)
	analyticsHandler := handlers.NewAnalyticsHandler(engine, log)
	branchesHandler := handlers.NewBranchesHandler(branches, branchesRW, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	// Receipts endpoints
	mux.HandleFunc("/api/receipts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			receiptsHandler.ListReceipts(w, r)
		case http.MethodPost:
			receiptsHandler.CreateReceipt(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			receiptsHandler.UploadReceipt(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/receipts/")
		if rest == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Receipt ID is required")
			return
		}

		switch {
		case r.Method == http.MethodGet && !strings.Contains(rest, "/"):
			receiptsHandler.GetReceipt(w, r, rest)
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/verify"):
			receiptsHandler.VerifyReceipt(w, r, strings.TrimSuffix(rest, "/verify"))
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/reject"):
			receiptsHandler.RejectReceipt(w, r, strings.TrimSuffix(rest, "/reject"))
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// POS import endpoint
	mux.HandleFunc("/api/pos/import", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posHandler.ImportBatch(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Analytics endpoint
	mux.HandleFunc("/api/analytics/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			analyticsHandler.Summary(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Branches endpoints
	mux.HandleFunc("/api/branches", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			branchesHandler.ListBranches(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/branches/", func(w http.ResponseWriter, r *http.Request) {
		branchID := strings.TrimPrefix(r.URL.Path, "/api/branches/")
		if branchID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Branch ID is required")
			return
		}
		switch r.Method {
		case http.MethodGet:
			branchesHandler.GetBranch(w, r, branchID)
		case http.MethodPut:
			branchesHandler.UpsertBranch(w, r, branchID)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Apply middleware. API routes require the X-User-ID identity header;
	// the health check does not.
	api := middleware.Identity(mux)

	root := http.NewServeMux()
	root.Handle("/api/", api)
	root.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(root),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Cancel worker context
	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing store")
		}
	}

	log.Info().Msg("Server exited")
}
