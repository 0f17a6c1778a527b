package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/schedule"
)

// SheetsConfig configures the spreadsheet service client.
type SheetsConfig struct {
	BaseURL        string
	APIToken       string
	RequestTimeout time.Duration
}

// SheetsClient uploads CSV artifacts into spreadsheet tabs through the
// spreadsheet service's HTTP API.
type SheetsClient struct {
	config     SheetsConfig
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewSheetsClient creates a spreadsheet service client.
func NewSheetsClient(cfg SheetsConfig, log *zap.SugaredLogger) *SheetsClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &SheetsClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     log,
	}
}

// Kind implements delivery.Sender.
func (c *SheetsClient) Kind() schedule.TargetKind { return schedule.TargetSpreadsheet }

// Send uploads the artifact's CSV data into the target's sheet tab,
// replacing the tab's previous contents.
func (c *SheetsClient) Send(ctx context.Context, target schedule.Target, artifact *delivery.Artifact) error {
	if target.Spreadsheet == nil || target.Spreadsheet.SheetID == "" {
		return errors.NewConfiguration("spreadsheet target %s has no sheet id", target.ID)
	}
	if c.config.BaseURL == "" {
		return errors.NewConfiguration("spreadsheet service is not configured")
	}
	if artifact.ContentType != "text/csv" {
		return errors.Permanent(
			errors.Newf("artifact is %s", artifact.ContentType),
			"spreadsheet targets require CSV output")
	}

	tab := target.Spreadsheet.TabName
	if tab == "" {
		tab = "Results"
	}
	uploadURL := fmt.Sprintf("%s/v1/sheets/%s/tabs/%s",
		c.config.BaseURL,
		url.PathEscape(target.Spreadsheet.SheetID),
		url.PathEscape(tab),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(artifact.Data))
	if err != nil {
		return errors.Wrap(err, "failed to build upload request")
	}
	req.Header.Set("Content-Type", "text/csv")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Transient(err, "spreadsheet upload failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := errors.Newf("spreadsheet service returned %d: %s", resp.StatusCode, snippet)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return errors.Permanent(err, "sheet does not exist")
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return errors.Transient(err, "spreadsheet upload failed")
		default:
			return errors.Permanent(err, "spreadsheet upload rejected")
		}
	}

	c.logger.Infow("Spreadsheet updated",
		"target_id", target.ID,
		"sheet_id", target.Spreadsheet.SheetID,
		"tab", tab,
		"bytes", len(artifact.Data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
