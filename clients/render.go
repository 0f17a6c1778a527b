package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/tasks"
)

// RenderConfig configures the render service client.
type RenderConfig struct {
	BaseURL        string
	APIToken       string
	SiteURL        string
	RequestTimeout time.Duration
}

// RenderService talks to the app's headless render service, which opens
// charts and dashboards in a browser and streams back images, CSV
// exports, and validation reports. Implements tasks.Renderer,
// tasks.Exporter, and tasks.Validator.
type RenderService struct {
	config     RenderConfig
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewRenderService creates a render service client.
func NewRenderService(cfg RenderConfig, log *zap.SugaredLogger) *RenderService {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 3 * time.Minute
	}
	return &RenderService{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     log,
	}
}

// RenderImage implements tasks.Renderer.
func (s *RenderService) RenderImage(ctx context.Context, resourceKind, resourceID string) (*delivery.Artifact, error) {
	data, err := s.fetch(ctx, fmt.Sprintf("/v1/render/%s/%s.png",
		url.PathEscape(resourceKind), url.PathEscape(resourceID)))
	if err != nil {
		return nil, err
	}
	return &delivery.Artifact{
		Filename:    resourceID + ".png",
		ContentType: "image/png",
		Data:        data,
		URL:         s.resourceURL(resourceKind, resourceID),
	}, nil
}

// ExportCSV implements tasks.Exporter.
func (s *RenderService) ExportCSV(ctx context.Context, resourceKind, resourceID string) (*delivery.Artifact, error) {
	data, err := s.fetch(ctx, fmt.Sprintf("/v1/export/%s/%s.csv",
		url.PathEscape(resourceKind), url.PathEscape(resourceID)))
	if err != nil {
		return nil, err
	}
	return &delivery.Artifact{
		Filename:    resourceID + ".csv",
		ContentType: "text/csv",
		Data:        data,
		URL:         s.resourceURL(resourceKind, resourceID),
	}, nil
}

// ValidateProject implements tasks.Validator.
func (s *RenderService) ValidateProject(ctx context.Context, projectID string) ([]tasks.ValidationIssue, error) {
	data, err := s.fetch(ctx, fmt.Sprintf("/v1/projects/%s/validate", url.PathEscape(projectID)))
	if err != nil {
		return nil, err
	}
	var report struct {
		Issues []tasks.ValidationIssue `json:"issues"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, "failed to decode validation report")
	}
	return report.Issues, nil
}

func (s *RenderService) fetch(ctx context.Context, path string) ([]byte, error) {
	if s.config.BaseURL == "" {
		return nil, errors.NewConfiguration("render service is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.BaseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build render request")
	}
	if s.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Transient(err, "render service request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := errors.Newf("render service returned %d: %s", resp.StatusCode, snippet)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.Permanent(err, "resource does not exist")
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, errors.Transient(err, "render service unavailable")
		default:
			return nil, errors.Permanent(err, "render request rejected")
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transient(err, "failed to read render response")
	}

	s.logger.Debugw("Render service request",
		"path", path,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

func (s *RenderService) resourceURL(resourceKind, resourceID string) string {
	if s.config.SiteURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%ss/%s", s.config.SiteURL, resourceKind, url.PathEscape(resourceID))
}
