package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/hashicorp/go-retryablehttp"
)

// Backend identifies one remote editor service. The two variants share the
// same API shape and differ only in base URL, the optional API-key header and
// subtitle/font fine grain.
type Backend struct {
	Name    string // capcut or jianying, the lowercased wire form
	BaseURL string
	APIKey  string
}

// Client is a typed wrapper over the editor draft API. Every call retries up
// to 3 times; the caller owns the per-task deadline through ctx.
type Client struct {
	backend    Backend
	httpClient *http.Client
}

func NewClient(backend Backend) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3 // retries after the first attempt; this+1 attempts in all
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	rc.Logger = nil

	return &Client{backend: backend, httpClient: rc.StandardClient()}
}

func (c *Client) Backend() Backend {
	return c.backend
}

// response is the common editor API envelope.
type response struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output"`
	Error   string                 `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	fullURL := strings.TrimSuffix(c.backend.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.backend.APIKey != "" {
		req.Header.Set("X-API-Key", c.backend.APIKey)
	}

	host := hostOf(fullURL)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Metrics.EditorClient.FailureCount.WithLabelValues(host, endpoint).Inc()
		return nil, xerrors.NewPipelineError(xerrors.KindUpstreamUnavailable,
			fmt.Errorf("editor backend %s unreachable: %w", c.backend.Name, err))
	}
	defer resp.Body.Close()
	metrics.Metrics.EditorClient.RequestDuration.WithLabelValues(host, endpoint).Observe(time.Since(start).Seconds())

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, xerrors.NewPipelineError(xerrors.KindUpstreamProtocol,
			fmt.Errorf("editor backend %s returned malformed response on %s: %w", c.backend.Name, endpoint, err))
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		detail := parsed.Error
		if detail == "" {
			detail = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return nil, xerrors.NewPipelineError(xerrors.KindUpstreamProtocol,
			fmt.Errorf("editor backend %s rejected %s: %s", c.backend.Name, endpoint, detail))
	}
	return parsed.Output, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}
	return u.Host
}

func outputString(output map[string]interface{}, key string) string {
	if output == nil {
		return ""
	}
	if v, ok := output[key].(string); ok {
		return v
	}
	return ""
}

// CreateDraft opens a 1080x1920 draft and returns its id.
func (c *Client) CreateDraft(ctx context.Context, width, height int) (string, error) {
	output, err := c.post(ctx, "/create_draft", map[string]interface{}{
		"width":  width,
		"height": height,
	})
	if err != nil {
		return "", err
	}
	draftID := outputString(output, "draft_id")
	if draftID == "" {
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamProtocol,
			fmt.Errorf("create_draft response carried no draft_id"))
	}
	return draftID, nil
}

type EffectArgs struct {
	DraftID    string
	EffectType string
	Start, End float64
	TrackName  string
	Params     []float64
}

func (c *Client) AddEffect(ctx context.Context, args EffectArgs) error {
	payload := map[string]interface{}{
		"draft_id":    args.DraftID,
		"effect_type": args.EffectType,
		"start":       args.Start,
		"end":         args.End,
		"track_name":  args.TrackName,
	}
	if args.Params != nil {
		payload["params"] = args.Params
	}
	_, err := c.post(ctx, "/add_effect", payload)
	return err
}

type AudioArgs struct {
	DraftID    string
	AudioURL   string
	Start, End float64
	Volume     float64
	TrackName  string
}

func (c *Client) AddAudio(ctx context.Context, args AudioArgs) error {
	_, err := c.post(ctx, "/add_audio", map[string]interface{}{
		"draft_id":   args.DraftID,
		"audio_url":  args.AudioURL,
		"start":      args.Start,
		"end":        args.End,
		"volume":     args.Volume,
		"track_name": args.TrackName,
	})
	return err
}

type VideoArgs struct {
	DraftID    string
	VideoURL   string
	Start, End float64
	// target placement on the draft timeline
	TargetStart float64
	TrackName   string
}

func (c *Client) AddVideo(ctx context.Context, args VideoArgs) error {
	_, err := c.post(ctx, "/add_video", map[string]interface{}{
		"draft_id":     args.DraftID,
		"video_url":    args.VideoURL,
		"start":        args.Start,
		"end":          args.End,
		"target_start": args.TargetStart,
		"track_name":   args.TrackName,
	})
	return err
}

type TextArgs struct {
	DraftID        string
	Text           string
	Start, End     float64
	Font           string
	FontColor      string
	FontSize       float64
	TransformY     float64
	BorderWidth    float64
	BorderColor    string
	Width, Height  int
	IntroAnimation string
	TrackName      string
}

func (c *Client) AddText(ctx context.Context, args TextArgs) error {
	payload := map[string]interface{}{
		"draft_id":     args.DraftID,
		"text":         args.Text,
		"start":        args.Start,
		"end":          args.End,
		"font":         args.Font,
		"font_color":   args.FontColor,
		"font_size":    args.FontSize,
		"transform_y":  args.TransformY,
		"border_width": args.BorderWidth,
		"border_color": args.BorderColor,
		"width":        args.Width,
		"height":       args.Height,
		"track_name":   args.TrackName,
	}
	if args.IntroAnimation != "" {
		payload["intro_animation"] = args.IntroAnimation
	}
	_, err := c.post(ctx, "/add_text", payload)
	return err
}

type SubtitleArgs struct {
	DraftID    string
	SRT        string
	TimeOffset float64
	Font       string
	FontSize   float64
	FontColor  string
	TransformY float64
	TrackName  string
}

func (c *Client) AddSubtitle(ctx context.Context, args SubtitleArgs) error {
	_, err := c.post(ctx, "/add_subtitle", map[string]interface{}{
		"draft_id":    args.DraftID,
		"srt":         args.SRT,
		"time_offset": args.TimeOffset,
		"font":        args.Font,
		"font_size":   args.FontSize,
		"font_color":  args.FontColor,
		"transform_y": args.TransformY,
		"track_name":  args.TrackName,
	})
	return err
}

// SaveDraftResult carries the save_draft outcome: either a final URL or a
// task id to poll.
type SaveDraftResult struct {
	DraftURL string
	TaskID   string
}

func (c *Client) SaveDraft(ctx context.Context, draftID, draftFolder string) (SaveDraftResult, error) {
	output, err := c.post(ctx, "/save_draft", map[string]interface{}{
		"draft_id":     draftID,
		"draft_folder": draftFolder,
	})
	if err != nil {
		return SaveDraftResult{}, err
	}
	return SaveDraftResult{
		DraftURL: outputString(output, "draft_url"),
		TaskID:   outputString(output, "task_id"),
	}, nil
}

// DraftStatus is one query_draft_status poll result.
type DraftStatus struct {
	Status   string
	DraftURL string
	Message  string
}

func (c *Client) QueryDraftStatus(ctx context.Context, taskID string) (DraftStatus, error) {
	output, err := c.post(ctx, "/query_draft_status", map[string]interface{}{
		"task_id": taskID,
	})
	if err != nil {
		return DraftStatus{}, err
	}
	return DraftStatus{
		Status:   outputString(output, "status"),
		DraftURL: outputString(output, "draft_url"),
		Message:  outputString(output, "message"),
	}, nil
}
