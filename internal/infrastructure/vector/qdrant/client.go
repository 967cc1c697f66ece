// Package qdrant is a read-only search client over an externally indexed
// collection carrying a dense and a sparse named vector per chunk.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "lexical"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Search runs dense similarity search scoped to the candidate documents.
func (c *Client) Search(ctx context.Context, queryVector []float32, candidateDocIDs []string, limit int) ([]domain.RetrievedChunk, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	reqBody := map[string]any{
		"query":        queryVector,
		"using":        denseVectorName,
		"limit":        limit,
		"with_payload": true,
	}
	addDocFilter(reqBody, candidateDocIDs)
	return c.query(ctx, reqBody)
}

// SearchLexical runs sparse (hashed BM25) search over the same collection.
func (c *Client) SearchLexical(ctx context.Context, queryText string, candidateDocIDs []string, limit int) ([]domain.RetrievedChunk, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"query":        sparse,
		"using":        sparseVectorName,
		"limit":        limit,
		"with_payload": true,
	}
	addDocFilter(reqBody, candidateDocIDs)
	return c.query(ctx, reqBody)
}

func addDocFilter(reqBody map[string]any, candidateDocIDs []string) {
	if len(candidateDocIDs) == 0 {
		return
	}
	reqBody["filter"] = map[string]any{
		"must": []map[string]any{
			{
				"key": "doc_id",
				"match": map[string]any{
					"any": candidateDocIDs,
				},
			},
		},
	}
}

func (c *Client) query(ctx context.Context, reqBody map[string]any) ([]domain.RetrievedChunk, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return nil, fmt.Errorf("qdrant query status: %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("qdrant query status: %s", resp.Status)
	}

	var queryResp struct {
		Result struct {
			Points []struct {
				Score   float64        `json:"score"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(queryResp.Result.Points))
	for _, p := range queryResp.Result.Points {
		out = append(out, domain.RetrievedChunk{
			ChunkID:    getStringPayload(p.Payload, "chunk_id"),
			DocumentID: getStringPayload(p.Payload, "doc_id"),
			Filename:   getStringPayload(p.Payload, "filename"),
			Text:       getStringPayload(p.Payload, "text"),
			Section:    getStringPayload(p.Payload, "section"),
			Page:       getIntPayload(p.Payload, "page"),
			ChunkType:  getStringPayload(p.Payload, "chunk_type"),
			DomainTag:  getStringPayload(p.Payload, "domain_tag"),
			Score:      p.Score,
		})
	}
	return out, nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
