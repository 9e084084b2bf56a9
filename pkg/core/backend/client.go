// Package backend implements the HTTP contract of the remote inference
// service: text queries, media uploads, asynchronous video jobs and their
// status polls.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/types"
)

// Client talks to one deployment of the inference service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a backend client for the given base URL.
func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

// NewWithClient creates a backend client with a custom HTTP client.
func NewWithClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Health checks the service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.NewTransportError("GET /health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

// QueryText sends a text query and returns the assistant's reply.
func (c *Client) QueryText(ctx context.Context, text, language string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"text":            text,
		"target_language": language,
	})
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", core.NewTransportError("POST /query", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", core.NewMalformedResponseError(fmt.Sprintf("query response: %v", err))
	}
	if body.Response == "" {
		return "", core.NewMalformedResponseError("query response missing reply text")
	}
	return body.Response, nil
}

// UploadImage uploads an image for analysis and classifies the response
// body into display text by the documented field precedence.
func (c *Client) UploadImage(ctx context.Context, ref *types.MediaRef, query, language string) (types.ImageOutcome, error) {
	fields := map[string]string{"target_language": language}
	if query != "" {
		fields["query"] = query
	}
	resp, err := c.postMultipart(ctx, "/upload/image", ref, fields)
	if err != nil {
		return types.ImageOutcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.ImageOutcome{}, c.statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ImageOutcome{}, core.NewTransportError("read image response", err)
	}
	return types.ClassifyImagePayload(data), nil
}

// UploadVoice uploads a recorded audio clip and returns its transcription.
// The service answers JSON, older deployments plain text; both decode.
func (c *Client) UploadVoice(ctx context.Context, ref *types.MediaRef, language string) (string, error) {
	resp, err := c.postMultipart(ctx, "/upload/voice", ref, map[string]string{
		"target_language": language,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewTransportError("read voice response", err)
	}

	if strings.HasPrefix(strings.TrimSpace(resp.Header.Get("Content-Type")), "application/json") {
		var body struct {
			Transcription string `json:"transcription"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return "", core.NewMalformedResponseError(fmt.Sprintf("voice response: %v", err))
		}
		return body.Transcription, nil
	}
	return strings.TrimSpace(string(data)), nil
}

// UploadVideoFrames runs the synchronous frames-only analysis.
func (c *Client) UploadVideoFrames(ctx context.Context, ref *types.MediaRef, language string) (string, error) {
	resp, err := c.postMultipart(ctx, types.VideoFramesOnly.Path(), ref, map[string]string{
		"target_language": language,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}
	var body struct {
		VisualAnalysis string `json:"visual_analysis"`
		Message        string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", core.NewMalformedResponseError(fmt.Sprintf("video response: %v", err))
	}
	if body.VisualAnalysis != "" {
		return body.VisualAnalysis, nil
	}
	return body.Message, nil
}

// SubmitVideoJob uploads a video to one of the asynchronous routes. The
// request ID becomes the job ID if the server echoes none back.
func (c *Client) SubmitVideoJob(ctx context.Context, ref *types.MediaRef, mode types.VideoMode, language, requestID string) (types.VideoAccept, error) {
	fields := map[string]string{
		"target_language": language,
		"processing_type": string(mode),
		"request_id":      requestID,
	}
	resp, err := c.postMultipart(ctx, mode.Path(), ref, fields)
	if err != nil {
		return types.VideoAccept{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return types.VideoAccept{}, c.statusError(resp)
	}
	var accept types.VideoAccept
	if err := json.NewDecoder(resp.Body).Decode(&accept); err != nil {
		return types.VideoAccept{}, core.NewMalformedResponseError(fmt.Sprintf("video accept: %v", err))
	}
	if accept.JobID == "" {
		accept.JobID = requestID
	}
	return accept, nil
}

// JobStatus fetches the state of an asynchronous job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (types.JobStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/job_status/"+jobID, nil)
	if err != nil {
		return types.JobStatusResponse{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.JobStatusResponse{}, core.NewTransportError("GET /job_status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.JobStatusResponse{}, c.statusError(resp)
	}
	var status types.JobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return types.JobStatusResponse{}, core.NewMalformedResponseError(fmt.Sprintf("job status: %v", err))
	}
	return status, nil
}

func (c *Client) postMultipart(ctx context.Context, path string, ref *types.MediaRef, fields map[string]string) (*http.Response, error) {
	file, err := os.Open(ref.Path)
	if err != nil {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("cannot open %s", ref.Name))
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", ref.Name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, fmt.Errorf("copy media: %w", err)
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewTransportError("POST "+path, err)
	}
	return resp, nil
}

// statusError converts a non-2xx response into a canonical error, using
// the server's own {"error": ...} copy when the body carries one.
func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data, &body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0
		fmt.Sscanf(resp.Header.Get("Retry-After"), "%d", &retryAfter)
		return core.NewRateLimitError(retryAfter)
	}
	return core.NewAPIError(body.Error, resp.StatusCode)
}
