package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/pkg/errors"

	"github.com/lightningkite/service-abstractions-sub003/db"
)

// SearchHit 托管搜索索引的命中，ID 对应集合文档的 _id
type SearchHit struct {
	ID    any
	Score float64
}

// SearchIndex 托管搜索索引。集合数据同步到索引由外部管道负责，
// 查询路径只读：按相关度返回有序 id 与分值，再由调用方回表取文档。
type SearchIndex interface {
	Search(ctx context.Context, table string, text string, requireAll bool, limit int) ([]SearchHit, error)
}

// esSearchIndex go-elasticsearch 实现，索引名与集合名一致
type esSearchIndex struct {
	client *elasticsearch.Client
}

func newESSearchIndex(opts *MongoOptions) (*esSearchIndex, error) {
	addresses := opts.ESAddresses
	if len(addresses) == 0 {
		addresses = []string{"http://localhost:9200"}
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  opts.ESUsername,
		Password:  opts.ESPassword,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create elasticsearch client")
	}
	return &esSearchIndex{client: client}, nil
}

func (s *esSearchIndex) Search(ctx context.Context, table string, text string, requireAll bool, limit int) ([]SearchHit, error) {
	operator := "or"
	if requireAll {
		operator = "and"
	}
	searchBody := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":    text,
				"operator": operator,
			},
		},
		"size":    limit,
		"_source": false,
	}
	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search body")
	}

	req := esapi.SearchRequest{
		Index: []string{table},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, errors.Wrap(db.ErrTransient, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		// 索引尚未建立视为空结果
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				ID    string  `json:"_id"`
				Score float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, errors.Wrap(err, "failed to decode search result")
	}

	hits := make([]SearchHit, 0, len(searchResult.Hits.Hits))
	for _, hit := range searchResult.Hits.Hits {
		hits = append(hits, SearchHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}
