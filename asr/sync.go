package asr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/subtitle"
	"github.com/hashicorp/go-retryablehttp"
)

// SyncClient POSTs normalized WAV audio to the synchronous ASR HTTP service.
// Endpoint shape depends on the model family: whisper exposes /inference,
// sense exposes /asr.
type SyncClient struct {
	BaseURL  string
	APIKey   string
	Model    ModelKind
	Language string

	httpClient *http.Client
}

func NewSyncClient(baseURL, apiKey string, model ModelKind, language string) *SyncClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	client.Logger = nil

	return &SyncClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		Language:   language,
		httpClient: client.StandardClient(),
	}
}

// Transcribe uploads the WAV and returns raw SRT text.
func (c *SyncClient) Transcribe(ctx context.Context, taskID, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("cannot open audio for ASR: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("error buffering audio upload: %w", err)
	}

	lang := c.Language
	endpoint := c.BaseURL
	switch c.Model {
	case ModelSense:
		endpoint += "/asr"
		// the sense service treats auto poorly; it is a zh-first model
		if lang == "auto" || lang == "" {
			lang = "zh"
		}
		if err := writer.WriteField("lang", lang); err != nil {
			return "", err
		}
	default:
		endpoint += "/inference"
		if lang == "" {
			lang = "auto"
		}
		if err := writer.WriteField("response_format", "srt"); err != nil {
			return "", err
		}
		if err := writer.WriteField("language", lang); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	log.Log(taskID, "submitting synchronous ASR request", "endpoint", endpoint, "model", string(c.Model), "lang", lang)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Metrics.ASRClient.FailureCount.WithLabelValues(req.URL.Host, "transcribe").Inc()
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamUnavailable, fmt.Errorf("ASR service unreachable: %w", err))
	}
	defer resp.Body.Close()
	metrics.Metrics.ASRClient.RequestDuration.WithLabelValues(req.URL.Host, "transcribe").Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading ASR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return "", xerrors.NewPipelineError(xerrors.KindUpstreamUnavailable,
				fmt.Errorf("ASR service returned %d: %s", resp.StatusCode, truncate(raw, 512)))
		}
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamProtocol,
			fmt.Errorf("ASR service rejected request with %d: %s", resp.StatusCode, truncate(raw, 512)))
	}

	text, err := subtitle.DecodeBytes(raw)
	if err != nil {
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamProtocol, fmt.Errorf("undecodable ASR response: %w", err))
	}
	if !strings.Contains(text, "-->") {
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamProtocol,
			fmt.Errorf("ASR response carries no SRT cues: %s", truncate([]byte(text), 256)))
	}
	return text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
