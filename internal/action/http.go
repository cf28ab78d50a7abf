package action

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/version"
)

// newHTTPClient returns a client that never retries and identifies the pipeline.
func newHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent())
}

// WebhookExecutor posts the triggering event to the configured URL.
type WebhookExecutor struct {
	client *resty.Client
}

// NewWebhookExecutor creates the webhook executor.
func NewWebhookExecutor(timeout time.Duration) *WebhookExecutor {
	return &WebhookExecutor{client: newHTTPClient(timeout)}
}

// Type implements Executor.
func (*WebhookExecutor) Type() rule.ActionType { return rule.ActionWebhook }

// Execute implements Executor. Non-2xx answers are errors; nothing is retried.
func (x *WebhookExecutor) Execute(ctx context.Context, req Request) error {
	cfg, ok := configAs[rule.WebhookConfig](req.Action)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedConfig, req.Action.Config)
	}

	resp, err := x.client.R().
		SetContext(ctx).
		SetHeaders(cfg.Headers).
		SetBody(req.Event).
		Post(cfg.URL)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("webhook %s answered %s", cfg.URL, resp.Status())
	}

	return nil
}

// recordRequest is the body of a camera recording request.
type recordRequest struct {
	Duration  int    `json:"duration"`
	PreBuffer int    `json:"preBuffer"`
	EventID   string `json:"eventId"`
}

// CameraExecutor asks the recording collaborator to capture a clip.
type CameraExecutor struct {
	client *resty.Client
}

// NewCameraExecutor creates an executor for the recording API at baseURL.
func NewCameraExecutor(baseURL string, timeout time.Duration) *CameraExecutor {
	return &CameraExecutor{client: newHTTPClient(timeout).SetBaseURL(baseURL)}
}

// Type implements Executor.
func (*CameraExecutor) Type() rule.ActionType { return rule.ActionCameraRecord }

// Execute implements Executor.
func (x *CameraExecutor) Execute(ctx context.Context, req Request) error {
	cfg, ok := configAs[rule.CameraRecordConfig](req.Action)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedConfig, req.Action.Config)
	}

	resp, err := x.client.R().
		SetContext(ctx).
		SetBody(recordRequest{Duration: cfg.Duration, PreBuffer: cfg.PreBuffer, EventID: req.Event.ID}).
		Post("/api/cameras/" + url.PathEscape(cfg.CameraID) + "/record")
	if err != nil {
		return fmt.Errorf("start recording on camera %s: %w", cfg.CameraID, err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("start recording on camera %s: status %s", cfg.CameraID, strconv.Itoa(resp.StatusCode()))
	}

	return nil
}
