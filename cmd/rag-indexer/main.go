package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/andrew/rag-engine/pkg/cache/embedcache"
	"github.com/andrew/rag-engine/pkg/classifier"
	"github.com/andrew/rag-engine/pkg/config"
	"github.com/andrew/rag-engine/pkg/llm"
	"github.com/andrew/rag-engine/pkg/models"
	"github.com/andrew/rag-engine/pkg/vector"
)

// logError logs an error with file and line information
func logError(err error) {
	_, file, line, _ := runtime.Caller(1)
	log.Fatalf("😡 %s:%d - %v", file, line, err)
}

const upsertBatchSize = 100

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	contentDir = flag.String("content-dir", "content", "Directory containing content files")
	recreate   = flag.Bool("recreate", false, "Recreate the collection if it exists")
	chunkWords = flag.Int("chunk-words", 180, "Words per chunk")
	overlap    = flag.Int("overlap-words", 30, "Overlapping words between consecutive chunks")
	serviceURL = flag.String("service-url", "", "Running query service to notify after indexing (e.g. http://localhost:8080)")
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

	var cfg *config.AppConfig
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		logError(fmt.Errorf("failed to load config: %w", err))
	}

	ctx := context.Background()

	client, err := llm.NewOllamaClient(cfg.OllamaClientConfig())
	if err != nil {
		logError(fmt.Errorf("failed to initialize Ollama client: %w", err))
	}
	defer client.Close()

	store, err := vector.NewQdrantStore(cfg.QdrantStoreConfig())
	if err != nil {
		logError(fmt.Errorf("failed to connect to Qdrant: %w", err))
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx, *recreate); err != nil {
		logError(fmt.Errorf("failed to setup collection: %w", err))
	}

	embeddings := embedcache.New(cfg.EmbedCacheServiceConfig())
	defer embeddings.Close()

	cls := classifier.NewKeywordClassifier(classifier.DefaultKeywordSets())

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Println(boldGreen("📚 RAG Content Indexer"))

	chunks, files, err := indexContentFiles(ctx, client, store, embeddings, cls, *contentDir)
	if err != nil {
		logError(fmt.Errorf("indexing failed: %w", err))
	}

	fmt.Printf("✅ Indexed %d chunks from %d files\n", chunks, files)

	if *serviceURL != "" {
		if err := invalidateService(*serviceURL); err != nil {
			slog.Warn("could not notify query service", "url", *serviceURL, "error", err)
		} else {
			fmt.Println("✅ Query service response cache invalidated")
		}
	}
}

// indexContentFiles walks the content directory, chunks each document,
// classifies and embeds every chunk and upserts the records in batches.
func indexContentFiles(ctx context.Context, client llm.Client, store *vector.QdrantStore,
	embeddings *embedcache.Cache, cls classifier.Classifier, dir string) (int, int, error) {
	files, err := findContentFiles(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("error finding content files: %w", err)
	}

	fmt.Printf("📚 Processing %d content files\n", len(files))

	ingestedAt := time.Now().UTC()
	var totalChunks int
	batch := make([]vector.Record, 0, upsertBatchSize)

	for fileIndex, path := range files {
		contentBytes, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable file", "path", path, "error", err)
			continue
		}

		relPath, _ := filepath.Rel(dir, path)
		fmt.Printf("📄 [%d/%d] Processing: %s (%d bytes)\n", fileIndex+1, len(files), relPath, len(contentBytes))

		doc := models.Document{
			ID:      documentID(relPath),
			Content: string(contentBytes),
			Source:  relPath,
			Created: ingestedAt,
		}
		chunks := chunkDocument(doc, *chunkWords, *overlap, ingestedAt)
		slog.Debug("split document", "document", doc.ID, "chunks", len(chunks))

		for _, chunk := range chunks {
			embedding, err := embeddings.GetOrCompute(ctx, chunk.Content, client.EmbedText)
			if err != nil {
				slog.Warn("failed to embed chunk", "document", doc.ID, "chunk", chunk.Index, "error", err)
				continue
			}

			classification, _ := cls.Classify(ctx, chunk.Content)
			chunk.Domain = classification.Domain

			batch = append(batch, vector.Record{
				ID:     chunk.ID,
				Vector: embedding,
				Payload: vector.Payload{
					Text:       chunk.Content,
					DocumentID: chunk.DocumentID,
					Domain:     chunk.Domain,
					ChunkIndex: chunk.Index,
					IngestedAt: chunk.IngestedAt,
				},
			})
			totalChunks++

			if len(batch) >= upsertBatchSize {
				if err := store.Upsert(ctx, batch); err != nil {
					return totalChunks, len(files), fmt.Errorf("failed to upsert batch: %w", err)
				}
				batch = batch[:0]
			}
		}
	}

	if len(batch) > 0 {
		if err := store.Upsert(ctx, batch); err != nil {
			return totalChunks, len(files), fmt.Errorf("failed to upsert batch: %w", err)
		}
	}

	return totalChunks, len(files), nil
}

// findContentFiles recursively finds indexable files in a directory
func findContentFiles(rootDir string) ([]string, error) {
	var files []string
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".md", ".txt":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// documentID derives a stable identifier from the file's relative path
func documentID(relPath string) string {
	id := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	return strings.ReplaceAll(filepath.ToSlash(id), "/", "-")
}

// chunkDocument splits a document into overlapping word windows. Word
// boundaries keep sentences mostly intact, unlike byte slicing which can
// split multi-byte runes.
func chunkDocument(doc models.Document, size, overlap int, ingestedAt time.Time) []models.Chunk {
	words := strings.Fields(doc.Content)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = 180
	}
	if overlap >= size {
		overlap = size / 4
	}

	var chunks []models.Chunk
	for start := 0; start < len(words); start += size - overlap {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Content:    strings.Join(words[start:end], " "),
			Index:      len(chunks),
			IngestedAt: ingestedAt,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// invalidateService tells a running query service to drop cached answers
func invalidateService(baseURL string) error {
	resp, err := http.Post(strings.TrimRight(baseURL, "/")+"/invalidate", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return nil
}
