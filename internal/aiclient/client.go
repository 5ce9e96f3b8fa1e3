package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"voiceletter/pkg/domain"
)

// Client calls the external AI service over HTTP. All endpoints are plain
// pass-throughs; failures surface to the caller untouched.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an AI service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an AI service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Transcription of longer recordings can take a while.
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// RecommendTitle asks for a title suggestion and sentiment rating.
func (c *Client) RecommendTitle(ctx context.Context, reqBody domain.RecommendTitleRequest) (domain.RecommendTitleResponse, error) {
	var out domain.RecommendTitleResponse
	err := c.postJSON(ctx, "/get-info", reqBody, &out)
	return out, err
}

// ProcessContent asks for an AI-rewritten version of the letter text.
func (c *Client) ProcessContent(ctx context.Context, reqBody domain.RecommendTextRequest) (domain.RecommendTextResponse, error) {
	var out domain.RecommendTextResponse
	err := c.postJSON(ctx, "/process-content", reqBody, &out)
	return out, err
}

// Transcribe sends an audio payload for speech-to-text conversion. The
// multipart body is streamed through a pipe so large recordings never sit
// in memory; a read failure on the source closes the pipe and fails the
// request with that error.
func (c *Client) Transcribe(ctx context.Context, filename string, r io.Reader) (domain.TranscriptionResponse, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, filename))
		header.Set("Content-Type", "audio/x-m4a")
		part, err := writer.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe-audio", pr)
	if err != nil {
		return domain.TranscriptionResponse{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out domain.TranscriptionResponse
	if err := c.do(req, &out); err != nil {
		return domain.TranscriptionResponse{}, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai service request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Detail
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ai response: %w", err)
	}
	return nil
}
