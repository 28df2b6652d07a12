// Package search mirrors tenants, users and the event log into
// Elasticsearch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/config"
)

// Index names before prefixing
const (
	TenantsIndex = "tenants"
	UsersIndex   = "users"
	EventsIndex  = "event-log"
)

// Indices lists every index managed by this package
var Indices = []string{TenantsIndex, UsersIndex, EventsIndex}

// ElasticClient wraps the Elasticsearch client with the configured prefix
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// SearchResult is one page of hits
type SearchResult struct {
	Total int64             `json:"total"`
	Hits  []json.RawMessage `json:"hits"`
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexName returns the prefixed name of index
func (c *ElasticClient) IndexName(index string) string {
	return config.FormatIndex(c.config, index)
}

// EnsureIndices creates the missing indices
func (c *ElasticClient) EnsureIndices(ctx context.Context) error {
	for _, index := range Indices {
		name := c.IndexName(index)

		res, err := c.client.Indices.Exists([]string{name}, c.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return errors.Wrapf(err, "failed to check index %s", name)
		}
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			continue
		}

		log.Info().Str("index", name).Msg("Creating index")
		res, err = c.client.Indices.Create(name, c.client.Indices.Create.WithContext(ctx))
		if err != nil {
			return errors.Wrapf(err, "failed to create index %s", name)
		}
		if err := checkResponse(res, "create index"); err != nil {
			return err
		}
	}
	return nil
}

// IndexDocument stores doc under id
func (c *ElasticClient) IndexDocument(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      c.IndexName(index),
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	return checkResponse(res, "index")
}

// DeleteDocument removes id; a missing document is not an error
func (c *ElasticClient) DeleteDocument(ctx context.Context, index, id string) error {
	req := esapi.DeleteRequest{
		Index:      c.IndexName(index),
		DocumentID: id,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch delete request")
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil
	}
	return checkResponse(res, "delete")
}

// Search runs a query string search on index
func (c *ElasticClient) Search(ctx context.Context, index, query string, from, size int) (SearchResult, error) {
	body := map[string]any{
		"from": from,
		"size": size,
	}
	if query == "" {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	} else {
		body["query"] = map[string]any{"query_string": map[string]any{"query": query}}
	}
	queryJSON, err := json.Marshal(body)
	if err != nil {
		return SearchResult{}, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{c.IndexName(index)},
		Body:  bytes.NewReader(queryJSON),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return SearchResult{}, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return SearchResult{}, errors.Errorf("Elasticsearch search error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return SearchResult{}, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	result := SearchResult{Total: parsed.Hits.Total.Value, Hits: make([]json.RawMessage, 0, len(parsed.Hits.Hits))}
	for _, hit := range parsed.Hits.Hits {
		result.Hits = append(result.Hits, hit.Source)
	}
	return result, nil
}

func checkResponse(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if !res.IsError() {
		return nil
	}
	var e map[string]any
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}
