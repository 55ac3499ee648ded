package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/enums"
	pkgerrors "github.com/talkscribe/talkscribe-backend/pkg/errors"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
)

// SubmitRequest describes a transcription job handed to the external engine.
// CorrelationToken is echoed back on push callbacks so they can be matched to
// a job without trusting the caller.
type SubmitRequest struct {
	AudioRef         string        `json:"audio_ref"`
	DurationMinutes  int           `json:"duration_minutes"`
	Mode             enums.JobMode `json:"mode"`
	CorrelationToken string        `json:"callback_token"`
}

// Result is the engine's view of a submitted job.
type Result struct {
	Status     enums.EngineJobStatus `json:"status"`
	Transcript string                `json:"transcript,omitempty"`
}

// Client talks to the external transcription engine. Submissions and polls
// are synchronous; completion may also arrive as a push callback.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, externalRef string) (*Result, error)
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logg    *logger.Logger
}

// ClientParams groups dependencies for the engine client.
type ClientParams struct {
	Config     config.EngineConfig
	Logger     *logger.Logger
	HTTPClient *http.Client
}

// NewClient builds the HTTP engine client.
func NewClient(params ClientParams) (Client, error) {
	if params.Config.BaseURL == "" {
		return nil, fmt.Errorf("engine base url required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	client := params.HTTPClient
	if client == nil {
		timeout := params.Config.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &httpClient{
		baseURL: strings.TrimRight(params.Config.BaseURL, "/"),
		apiKey:  params.Config.APIKey,
		client:  client,
		logg:    params.Logger,
	}, nil
}

type submitResponse struct {
	ID string `json:"id"`
}

func (c *httpClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode submit request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/transcriptions", bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build submit request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "engine unreachable")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return "", err
	}

	var decoded submitResponse
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "engine returned an unreadable submit response")
	}
	return decoded.ID, nil
}

func (c *httpClient) Poll(ctx context.Context, externalRef string) (*Result, error) {
	if externalRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external ref required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/transcriptions/"+externalRef, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build poll request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "engine unreachable")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "engine returned an unreadable poll response")
	}
	if !result.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("engine returned unknown status %q", result.Status))
	}
	return &result, nil
}

// classifyStatus separates permanent rejections (the engine will never accept
// this job) from transient failures that are safe to retry.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return pkgerrors.New(pkgerrors.CodeEngineRejected,
			fmt.Sprintf("engine rejected request: %s", summarize(body)))
	default:
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("engine error %d", status))
	}
}

func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		cut := 200
		// back off to a rune boundary so the message stays valid UTF-8
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	if text == "" {
		return "no detail"
	}
	return text
}
