package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
)

const tusChunkSize = 1024 * 1024 // 1 MiB

// TUSClient drives the asynchronous resumable-upload ASR backend: create the
// job, open a TUS session, PATCH chunks at the advancing offset, then hand
// completion over to the callback server.
type TUSClient struct {
	APIURL   string // job creation endpoint base
	TusURL   string // TUS upload endpoint base
	APIKey   string
	Model    string
	Language string

	// CallbackURL is the externally reachable address of the callback server,
	// resolved once at startup.
	CallbackURL string

	httpClient *http.Client
}

func NewTUSClient(apiURL, tusURL, apiKey, model, language, callbackURL string) *TUSClient {
	return &TUSClient{
		APIURL:      strings.TrimSuffix(apiURL, "/"),
		TusURL:      strings.TrimSuffix(tusURL, "/"),
		APIKey:      apiKey,
		Model:       model,
		Language:    language,
		CallbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type createTaskResponse struct {
	TaskID    string `json:"task_id"`
	UploadURL string `json:"upload_url"`
}

// Submit creates the ASR job and uploads the audio. Returns the upstream
// task id; the result arrives later via the callback server.
func (c *TUSClient) Submit(ctx context.Context, workerTaskID, audioPath string) (string, error) {
	stat, err := os.Stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("cannot stat audio for TUS upload: %w", err)
	}

	created, err := c.createTask(ctx, workerTaskID, filepath.Base(audioPath), stat.Size())
	if err != nil {
		return "", err
	}

	uploadURL, err := c.createUploadSession(ctx, workerTaskID, created, filepath.Base(audioPath), stat.Size())
	if err != nil {
		return "", err
	}

	if err := c.uploadChunks(ctx, workerTaskID, uploadURL, audioPath, stat.Size()); err != nil {
		return "", err
	}

	log.Log(workerTaskID, "TUS upload complete", "asr_task_id", created.TaskID, "bytes", stat.Size())
	return created.TaskID, nil
}

func (c *TUSClient) createTask(ctx context.Context, taskID, filename string, filesize int64) (createTaskResponse, error) {
	payload := map[string]interface{}{
		"filename": filename,
		"filesize": filesize,
		"metadata": map[string]string{
			"language": c.Language,
			"model":    c.Model,
		},
	}
	if c.CallbackURL != "" {
		payload["callback_url"] = c.CallbackURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return createTaskResponse{}, err
	}

	var created createTaskResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+"/api/v1/asr-tasks", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.setAuthHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ASR task creation returned %d: %s", resp.StatusCode, truncate(raw, 256))
		}
		if err := json.Unmarshal(raw, &created); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid ASR task creation response: %w", err))
		}
		if created.TaskID == "" || created.UploadURL == "" {
			return backoff.Permanent(fmt.Errorf("ASR task creation response missing task_id or upload_url: %s", truncate(raw, 256)))
		}
		return nil
	}
	if err := backoff.Retry(operation, tusRetryBackoff()); err != nil {
		return createTaskResponse{}, xerrors.NewPipelineError(xerrors.KindUpstreamUnavailable,
			fmt.Errorf("failed to create TUS ASR task: %w", err))
	}
	log.Log(taskID, "created TUS ASR task", "asr_task_id", created.TaskID)
	return created, nil
}

// createUploadSession POSTs the TUS creation request and returns the upload
// resource URL from the Location header.
func (c *TUSClient) createUploadSession(ctx context.Context, taskID string, created createTaskResponse, filename string, filesize int64) (string, error) {
	metadata := fmt.Sprintf("filename %s,task_id %s",
		base64.StdEncoding.EncodeToString([]byte(filename)),
		base64.StdEncoding.EncodeToString([]byte(created.TaskID)))

	var location string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TusURL+"/files", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Tus-Resumable", "1.0.0")
		req.Header.Set("Upload-Length", strconv.FormatInt(filesize, 10))
		req.Header.Set("Upload-Metadata", metadata)
		c.setAuthHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			raw, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("TUS session creation returned %d: %s", resp.StatusCode, truncate(raw, 256))
		}
		location = resp.Header.Get("Location")
		if location == "" {
			return backoff.Permanent(fmt.Errorf("TUS session creation returned no Location header"))
		}
		return nil
	}
	if err := backoff.Retry(operation, tusRetryBackoff()); err != nil {
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamUnavailable,
			fmt.Errorf("failed to create TUS upload session: %w", err))
	}

	if !strings.HasPrefix(location, "http") {
		location = c.TusURL + "/files/" + strings.TrimPrefix(location, "/")
	}
	log.Log(taskID, "created TUS upload session", "upload_url", location)
	return location, nil
}

// uploadChunks PATCHes 1 MiB chunks at the advancing Upload-Offset. Each
// chunk retries up to 3 times with exponential backoff capped at 30 s, and
// the advertised new offset must equal offset + len(chunk).
func (c *TUSClient) uploadChunks(ctx context.Context, taskID, uploadURL, audioPath string, filesize int64) error {
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("cannot open audio for TUS upload: %w", err)
	}
	defer f.Close()

	buf := make([]byte, tusChunkSize)
	var offset int64
	for offset < filesize {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek failed at offset %d: %w", offset, err)
		}
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// final short chunk
		} else if err != nil {
			return fmt.Errorf("read failed at offset %d: %w", offset, err)
		}
		if n == 0 {
			break
		}
		chunk := buf[:n]

		newOffset, err := c.patchChunk(ctx, uploadURL, offset, chunk)
		if err != nil {
			return xerrors.NewPipelineError(xerrors.KindUpstreamUnavailable,
				fmt.Errorf("TUS chunk upload failed at offset %d: %w", offset, err))
		}
		if newOffset != offset+int64(n) {
			return xerrors.NewPipelineError(xerrors.KindUpstreamProtocol,
				fmt.Errorf("TUS offset mismatch: expected %d, server advertised %d", offset+int64(n), newOffset))
		}
		offset = newOffset
		log.Log(taskID, "uploaded TUS chunk", "offset", offset, "total", filesize)
	}
	return nil
}

func (c *TUSClient) patchChunk(ctx context.Context, uploadURL string, offset int64, chunk []byte) (int64, error) {
	var newOffset int64
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, uploadURL, bytes.NewReader(chunk))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Tus-Resumable", "1.0.0")
		req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
		req.Header.Set("Content-Type", "application/offset+octet-stream")
		c.setAuthHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			raw, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("TUS chunk upload returned %d: %s", resp.StatusCode, truncate(raw, 256)))
		}

		advertised := resp.Header.Get("Upload-Offset")
		if advertised == "" {
			newOffset = offset + int64(len(chunk))
			return nil
		}
		newOffset, err = strconv.ParseInt(advertised, 10, 64)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("unparseable Upload-Offset %q", advertised))
		}
		return nil
	}
	err := backoff.Retry(operation, tusRetryBackoff())
	return newOffset, err
}

func (c *TUSClient) setAuthHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
}

// tusRetryBackoff is 3 retries with exponential backoff capped at 30s.
func tusRetryBackoff() backoff.BackOff {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 1 * time.Second
	backOff.MaxInterval = 30 * time.Second
	backOff.MaxElapsedTime = 0
	return backoff.WithMaxRetries(backOff, 3)
}
