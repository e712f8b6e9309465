package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/andrew/rag-engine/pkg/cache/embedcache"
	"github.com/andrew/rag-engine/pkg/cache/respcache"
	"github.com/andrew/rag-engine/pkg/classifier"
	"github.com/andrew/rag-engine/pkg/config"
	"github.com/andrew/rag-engine/pkg/contextwin"
	"github.com/andrew/rag-engine/pkg/llm"
	"github.com/andrew/rag-engine/pkg/models"
	"github.com/andrew/rag-engine/pkg/pipeline"
	"github.com/andrew/rag-engine/pkg/retrieval"
	"github.com/andrew/rag-engine/pkg/vector"
)

// logError logs an error with file and line information
func logError(err error) {
	_, file, line, _ := runtime.Caller(1)
	log.Fatalf("😡 %s:%d - %v", file, line, err)
}

type answerRequest struct {
	Query       string           `json:"query"`
	Domain      string           `json:"domain,omitempty"`
	DocumentIDs []string         `json:"document_ids,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	History     []models.Message `json:"history,omitempty"`
	TopK        int              `json:"top_k,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type answerResponse struct {
	models.AnswerResult
	ProcessingMs int64 `json:"processing_ms"`
}

var (
	configPath = flag.String("config", "", "Path to YAML config file (uses ./config.yaml or ~/.config/rag-engine/config.yaml when empty)")
	addr       = flag.String("addr", "", "Listen address, overrides the config file")
	useMemory  = flag.Bool("memory-store", false, "Use the in-process vector store instead of Qdrant")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, cfgPath, err := loadConfig(*configPath)
	if err != nil {
		logError(fmt.Errorf("failed to load config: %w", err))
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	client, err := llm.NewOllamaClient(cfg.OllamaClientConfig())
	if err != nil {
		logError(fmt.Errorf("failed to initialize Ollama client: %w", err))
	}
	defer client.Close()

	store, err := openVectorStore(cfg, *useMemory)
	if err != nil {
		logError(fmt.Errorf("failed to connect to vector store: %w", err))
	}
	defer store.Close()

	embeddings := embedcache.New(cfg.EmbedCacheServiceConfig())
	defer embeddings.Close()
	responses := respcache.New(cfg.ResponseCacheServiceConfig())
	defer responses.Close()

	keywordSets := classifier.DefaultKeywordSets()
	cls := classifier.WithFallback(
		classifier.NewModelClassifier(client, keywordSets, 5*time.Second),
		classifier.NewKeywordClassifier(keywordSets),
	)

	var reranker retrieval.Reranker
	if cfg.Retrieval.RerankEnabled {
		reranker = llm.NewOllamaReranker(client)
	}
	retriever := retrieval.New(store, embeddings, client.EmbedText, reranker, cfg.RetrievalServiceConfig())
	builder := contextwin.New(client, cfg.Pipeline.RecentTurns)
	engine := pipeline.New(cls, retriever, builder, client, responses, embeddings, cfg.PipelineServiceConfig())

	mux := http.NewServeMux()
	mux.HandleFunc("/answer", handleAnswer(engine))
	mux.HandleFunc("/stats", handleStats(engine))
	mux.HandleFunc("/invalidate", handleInvalidate(engine))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Println(boldGreen("🔍 RAG Query Service"))
	fmt.Printf("Config: %s\n", boldCyan(cfgPath))
	fmt.Printf("Model: %s, Embeddings: %s\n", boldCyan(cfg.Ollama.Model), boldCyan(cfg.Ollama.EmbeddingModel))
	fmt.Printf("Listening on %s\n", boldCyan(cfg.Server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	fmt.Println("\nShutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
}

func loadConfig(path string) (*config.AppConfig, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	return config.LoadDefault()
}

func openVectorStore(cfg *config.AppConfig, memory bool) (vector.Store, error) {
	if memory {
		return vector.NewMemoryStore(), nil
	}
	return vector.NewQdrantStore(cfg.QdrantStoreConfig())
}

func handleAnswer(engine *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Query == "" {
			http.Error(w, "Missing query", http.StatusBadRequest)
			return
		}

		preq := pipeline.Request{
			Query:        req.Query,
			DomainFilter: req.Domain,
			DocumentIDs:  req.DocumentIDs,
			SessionID:    req.SessionID,
			History:      req.History,
			TopK:         req.TopK,
		}

		if req.Stream {
			streamAnswer(w, r, engine, preq)
			return
		}

		start := time.Now()
		result, err := engine.Answer(r.Context(), preq)
		if err != nil {
			writeQueryError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(answerResponse{
			AnswerResult: result,
			ProcessingMs: time.Since(start).Milliseconds(),
		}); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// streamAnswer delivers the answer as server-sent events: token events while
// the model produces output, then one final event with the full result.
func streamAnswer(w http.ResponseWriter, r *http.Request, engine *pipeline.Pipeline, req pipeline.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := engine.AnswerStream(r.Context(), req)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		if ev.Final != nil {
			payload, _ := json.Marshal(ev.Final)
			fmt.Fprintf(w, "event: final\ndata: %s\n\n", payload)
			flusher.Flush()
			continue
		}
		payload, _ := json.Marshal(map[string]string{"token": ev.Token})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func handleStats(engine *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(engine.Stats()); err != nil {
			slog.Error("failed to encode stats", "error", err)
		}
	}
}

func handleInvalidate(engine *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n := engine.InvalidateResponses()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"invalidated": n})
	}
}

func writeQueryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, context.Canceled) {
		status = http.StatusRequestTimeout
	}
	var qe *pipeline.QueryError
	if errors.As(err, &qe) {
		http.Error(w, fmt.Sprintf("%s error: %v", qe.Kind, qe.Unwrap()), http.StatusBadGateway)
		return
	}
	http.Error(w, err.Error(), status)
}
