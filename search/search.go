package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/discoveryengine/v1"
	"google.golang.org/api/option"
)

// MaxResults is the number of results requested from, and kept from, the search service.
const MaxResults = 3

type Result struct {
	Title string `json:"title"`
	Link  string `json:"link"`
	// FileName is the last path segment of Link.
	FileName string `json:"fileName"`
}

type Config struct {
	ProjectID string
	// Location defaults to "global".
	Location  string
	DataStore string
	// ServingConfig defaults to "default_config".
	ServingConfig string
}

func (c Config) ServingConfigPath() string {
	location := c.Location
	if location == "" {
		location = "global"
	}
	servingConfig := c.ServingConfig
	if servingConfig == "" {
		servingConfig = "default_config"
	}
	return fmt.Sprintf("projects/%s/locations/%s/dataStores/%s/servingConfigs/%s", c.ProjectID, location, c.DataStore, servingConfig)
}

func New(ctx context.Context, log *slog.Logger, cfg Config, opts ...option.ClientOption) (*Searcher, error) {
	svc, err := discoveryengine.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("search: failed to create discovery engine service: %w", err)
	}
	return &Searcher{
		log:           log,
		servingConfig: cfg.ServingConfigPath(),
		configs:       svc.Projects.Locations.DataStores.ServingConfigs,
	}, nil
}

type Searcher struct {
	log           *slog.Logger
	servingConfig string
	configs       *discoveryengine.ProjectsLocationsDataStoresServingConfigsService
}

type derivedStructData struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Search returns up to MaxResults web pages that match the keyword. Results without a
// derivable file name are dropped.
func (s *Searcher) Search(ctx context.Context, keyword string) (results []Result, err error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, nil
	}
	resp, err := s.configs.Search(s.servingConfig, &discoveryengine.GoogleCloudDiscoveryengineV1SearchRequest{
		Query:    keyword,
		PageSize: MaxResults,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	for _, r := range resp.Results {
		if r == nil || r.Document == nil || len(r.Document.DerivedStructData) == 0 {
			continue
		}
		var data derivedStructData
		if err = json.Unmarshal(r.Document.DerivedStructData, &data); err != nil {
			return nil, fmt.Errorf("search: failed to decode result %q: %w", r.Id, err)
		}
		result := Result{
			Title:    data.Title,
			Link:     data.Link,
			FileName: FileName(data.Link),
		}
		if result.FileName == "" {
			s.log.Debug("dropping search result without a file name", slog.String("link", data.Link))
			continue
		}
		results = append(results, result)
		if len(results) == MaxResults {
			break
		}
	}
	return results, nil
}

// FileName returns the final slash-separated segment of link.
func FileName(link string) string {
	if link == "" {
		return ""
	}
	segments := strings.Split(link, "/")
	return segments[len(segments)-1]
}
