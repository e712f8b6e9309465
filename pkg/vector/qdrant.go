package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant server
type QdrantConfig struct {
	Host           string
	Port           int
	Collection     string
	Dimension      int
	RequestTimeout time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
}

// DefaultQdrantConfig returns the default Qdrant settings
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:           "localhost",
		Port:           6334,
		Collection:     "rag_chunks",
		RequestTimeout: 15 * time.Second,
		MaxAttempts:    2,
		BaseDelay:      200 * time.Millisecond,
	}
}

// QdrantStore is a Store backed by a Qdrant server over gRPC
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	cfg         QdrantConfig
}

// NewQdrantStore connects to a Qdrant server
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	def := DefaultQdrantConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}

	conn, err := grpc.NewClient(
		fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	return &QdrantStore{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		cfg:         cfg,
	}, nil
}

// EnsureCollection creates the collection if it does not exist, or recreates
// it when recreate is true. Cosine distance, matching the engine's scoring.
func (s *QdrantStore) EnsureCollection(ctx context.Context, recreate bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	collections, err := s.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	exists := false
	for _, col := range collections.GetCollections() {
		if col.GetName() == s.cfg.Collection {
			exists = true
			break
		}
	}

	if exists && recreate {
		if _, err := s.collections.Delete(ctx, &qdrantclient.DeleteCollection{
			CollectionName: s.cfg.Collection,
		}); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
		exists = false
	}

	if !exists {
		_, err = s.collections.Create(ctx, &qdrantclient.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: &qdrantclient.VectorsConfig{
				Config: &qdrantclient.VectorsConfig_Params{
					Params: &qdrantclient.VectorParams{
						Size:     uint64(s.cfg.Dimension),
						Distance: qdrantclient.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	return nil
}

// Upsert inserts or updates vectors in the index
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	points := make([]*qdrantclient.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrantclient.PointStruct{
			Id: &qdrantclient.PointId{
				PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: r.Vector},
				},
			},
			Payload: encodePayload(r.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search finds the k nearest neighbors by cosine similarity. The call is
// retried with bounded exponential backoff before the error surfaces.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, filter *Filter) ([]Match, error) {
	req := &qdrantclient.SearchPoints{
		CollectionName: s.cfg.Collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Include{
				Include: &qdrantclient.PayloadIncludeSelector{
					Fields: []string{"text", "document_id", "domain", "page", "section", "chunk_index", "ingested_at"},
				},
			},
		},
		Filter: encodeFilter(filter),
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.BaseDelay

	var resp *qdrantclient.SearchResponse
	err := backoff.Retry(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		var err error
		resp, err = s.points.Search(reqCtx, req)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		matches = append(matches, Match{
			ID:      point.GetId().GetUuid(),
			Score:   float64(point.GetScore()),
			Payload: decodePayload(point.GetPayload()),
		})
	}
	return matches, nil
}

// Delete removes vectors from the index
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	pointIds := make([]*qdrantclient.PointId, len(ids))
	for i, id := range ids {
		pointIds[i] = &qdrantclient.PointId{
			PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: id},
		}
	}

	wait := true
	_, err := s.points.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Points{
				Points: &qdrantclient.PointsIdsList{Ids: pointIds},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Close releases the gRPC connection
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func encodeFilter(f *Filter) *qdrantclient.Filter {
	if f == nil || (f.Domain == "" && len(f.DocumentIDs) == 0) {
		return nil
	}
	var must []*qdrantclient.Condition
	if f.Domain != "" {
		must = append(must, &qdrantclient.Condition{
			ConditionOneOf: &qdrantclient.Condition_Field{
				Field: &qdrantclient.FieldCondition{
					Key: "domain",
					Match: &qdrantclient.Match{
						MatchValue: &qdrantclient.Match_Keyword{Keyword: f.Domain},
					},
				},
			},
		})
	}
	if len(f.DocumentIDs) > 0 {
		must = append(must, &qdrantclient.Condition{
			ConditionOneOf: &qdrantclient.Condition_Field{
				Field: &qdrantclient.FieldCondition{
					Key: "document_id",
					Match: &qdrantclient.Match{
						MatchValue: &qdrantclient.Match_Keywords{
							Keywords: &qdrantclient.RepeatedStrings{Strings: f.DocumentIDs},
						},
					},
				},
			},
		})
	}
	return &qdrantclient.Filter{Must: must}
}

func encodePayload(p Payload) map[string]*qdrantclient.Value {
	return map[string]*qdrantclient.Value{
		"text":        stringValue(p.Text),
		"document_id": stringValue(p.DocumentID),
		"domain":      stringValue(p.Domain),
		"page":        integerValue(int64(p.Page)),
		"section":     stringValue(p.Section),
		"chunk_index": integerValue(int64(p.ChunkIndex)),
		"ingested_at": integerValue(p.IngestedAt.Unix()),
	}
}

func decodePayload(values map[string]*qdrantclient.Value) Payload {
	p := Payload{
		Text:       values["text"].GetStringValue(),
		DocumentID: values["document_id"].GetStringValue(),
		Domain:     values["domain"].GetStringValue(),
		Page:       int(values["page"].GetIntegerValue()),
		Section:    values["section"].GetStringValue(),
		ChunkIndex: int(values["chunk_index"].GetIntegerValue()),
	}
	if ts := values["ingested_at"].GetIntegerValue(); ts > 0 {
		p.IngestedAt = time.Unix(ts, 0).UTC()
	}
	return p
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

func integerValue(n int64) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_IntegerValue{IntegerValue: n}}
}
