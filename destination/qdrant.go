package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"airweave.dev/syncengine/contentprocessor"
	"airweave.dev/syncengine/entity"

	"github.com/google/uuid"
)

// QdrantConfig configures one collection's REST endpoint. No Qdrant Go
// client ships in the example pack, so this talks to Qdrant's REST API
// directly over net/http, in the generic-HTTP-call style already used by
// source/jira and download (justified in DESIGN.md).
type QdrantConfig struct {
	BaseURL    string // e.g. http://localhost:6333
	APIKey     string
	Collection string
	VectorSize int
}

// Qdrant is a C10 destination that stores one point per chunk, fanned out
// by QdrantChunkEmbed (spec.md §4.9/§4.10).
type Qdrant struct {
	cfg       QdrantConfig
	client    *http.Client
	processor contentprocessor.Processor
}

// NewQdrant builds a Qdrant destination and provisions its collection if
// it does not already exist. VectorSize must be set (spec.md §4.10: "the
// builder validates vector_size must be present for vector destinations").
func NewQdrant(ctx context.Context, cfg QdrantConfig, processor contentprocessor.Processor) (*Qdrant, error) {
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("destination: qdrant requires a vector_size")
	}
	q := &Qdrant{cfg: cfg, client: &http.Client{}, processor: processor}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	body, _ := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"dense": map[string]any{"size": q.cfg.VectorSize, "distance": "Cosine"},
		},
		"sparse_vectors": map[string]any{
			"sparse": map[string]any{},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, q.cfg.BaseURL+"/collections/"+q.cfg.Collection, bytes.NewReader(body))
	if err != nil {
		return err
	}
	q.authenticate(req)
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("destination: qdrant create collection: %w", err)
	}
	defer resp.Body.Close()
	// 200 created, 409 already exists — both are fine; anything else is not.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("destination: qdrant create collection: unexpected status %s", resp.Status)
	}
	return nil
}

func (q *Qdrant) authenticate(req *http.Request) {
	if q.cfg.APIKey != "" {
		req.Header.Set("api-key", q.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// pointID derives a deterministic Qdrant point ID (must be an unsigned
// integer or a UUID) from an arbitrary source entity_id string.
func pointID(entityID string) string {
	return uuid.NewMD5(uuid.Nil, []byte(entityID)).String()
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (q *Qdrant) BulkUpsert(ctx context.Context, entities []*entity.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(entities))
	for _, e := range entities {
		vectors := map[string]any{}
		for _, v := range e.SystemMetadata.Vectors {
			switch v.Kind {
			case entity.VectorDense:
				vectors["dense"] = v.Values
			case entity.VectorSparse:
				vectors["sparse"] = map[string]any{"indices": v.Indices, "values": v.Values}
			}
		}
		payload := map[string]any{
			"entity_id":   e.EntityID,
			"entity_type": e.SystemMetadata.EntityType,
		}
		if e.SystemMetadata.OriginalEntityID != nil {
			payload["original_entity_id"] = *e.SystemMetadata.OriginalEntityID
		}
		if e.TextualRepresentation != nil {
			payload["text"] = *e.TextualRepresentation
		}
		points = append(points, qdrantPoint{ID: pointID(e.EntityID), Vector: vectors, Payload: payload})
	}

	body, _ := json.Marshal(map[string]any{"points": points})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", q.cfg.BaseURL, q.cfg.Collection), bytes.NewReader(body))
	if err != nil {
		return err
	}
	q.authenticate(req)
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("destination: qdrant upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("destination: qdrant upsert: unexpected status %s", resp.Status)
	}
	return nil
}

func (q *Qdrant) BulkDelete(ctx context.Context, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	ids := make([]string, len(entityIDs))
	for i, id := range entityIDs {
		ids[i] = pointID(id)
	}
	return q.deleteByFilter(ctx, map[string]any{"points": ids})
}

func (q *Qdrant) BulkDeleteByParent(ctx context.Context, parentEntityIDs []string) error {
	if len(parentEntityIDs) == 0 {
		return nil
	}
	return q.deleteByFilter(ctx, map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "original_entity_id", "match": map[string]any{"any": parentEntityIDs}},
			},
		},
	})
}

func (q *Qdrant) deleteByFilter(ctx context.Context, selector map[string]any) error {
	body, _ := json.Marshal(selector)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.cfg.BaseURL, q.cfg.Collection), bytes.NewReader(body))
	if err != nil {
		return err
	}
	q.authenticate(req)
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("destination: qdrant delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("destination: qdrant delete: unexpected status %s", resp.Status)
	}
	return nil
}

func (q *Qdrant) HasKeywordIndex() bool { return true }

func (q *Qdrant) GetContentProcessor() contentprocessor.Processor { return q.processor }

var _ Destination = (*Qdrant)(nil)
