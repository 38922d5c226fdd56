// gateway/audit/repository.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// decisionIndex holds one document per authorization decision.
const decisionIndex = "auth-decisions"

type Repository interface {
	IndexDecision(ctx context.Context, rec Record) error
	QueryDecisions(ctx context.Context, q Query) ([]Record, error)
}

type ElasticsearchRepository struct {
	esClient *elasticsearch.Client
}

// NewElasticsearchRepository creates a new repository with a given Elasticsearch client URL.
func NewElasticsearchRepository(esURL string) (*ElasticsearchRepository, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}
	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ElasticsearchRepository{esClient: esClient}, nil
}

// IndexDecision writes one decision record to Elasticsearch. Decisions
// arrive once per request, so the write rides the default refresh interval
// instead of forcing one per document.
func (r *ElasticsearchRepository) IndexDecision(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      decisionIndex,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(data),
	}

	res, err := req.Do(ctx, r.esClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing decision: %s", res.String())
	}

	return nil
}

// QueryDecisions searches the trail within a time frame, optionally filtered
// by subject and outcome. Results come back newest first.
func (r *ElasticsearchRepository) QueryDecisions(ctx context.Context, q Query) ([]Record, error) {
	size := q.Size
	if size <= 0 {
		size = DefaultQuerySize
	}

	must := []interface{}{
		map[string]interface{}{
			"range": map[string]interface{}{
				"at": map[string]interface{}{
					"gte": q.From.Format(time.RFC3339),
					"lte": q.To.Format(time.RFC3339),
				},
			},
		},
	}
	if q.SubjectID != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{
				"subject_id": q.SubjectID,
			},
		})
	}
	if q.Decision != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{
				"decision": q.Decision,
			},
		})
	}

	query := map[string]interface{}{
		"size": size,
		"sort": []interface{}{
			map[string]interface{}{"at": "desc"},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": must,
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(decisionIndex),
		r.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error searching decisions: %s", res.String())
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				Source Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, err
	}

	records := make([]Record, len(sr.Hits.Hits))
	for i, hit := range sr.Hits.Hits {
		records[i] = hit.Source
	}

	return records, nil
}
