package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/yvan/internal/app"
	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/internal/server"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running yvan server, so the CLI does not open the index
// and ledger the server already owns.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A zero timeout means none.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Ask posts a chat question.
func (c *Client) Ask(ctx context.Context, question string) (*models.Answer, error) {
	var resp server.ChatResponse
	if err := c.postForm(ctx, "/api/chat", url.Values{"question": {question}}, &resp); err != nil {
		return nil, err
	}
	return &models.Answer{Text: resp.Answer, Sources: resp.Sources}, nil
}

// Diagnose posts a symptom description.
func (c *Client) Diagnose(ctx context.Context, symptoms string) (*models.Answer, error) {
	var resp server.DiagnoseResponse
	if err := c.postForm(ctx, "/api/diagnose", url.Values{"symptoms": {symptoms}}, &resp); err != nil {
		return nil, err
	}
	return &models.Answer{Text: resp.Answer, Sources: resp.Sources}, nil
}

// Upload sends the file at path to the server, which stores and ingests it.
func (c *Client) Upload(ctx context.Context, path string) (*models.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp server.UploadResponse
	if err := c.do(req, &resp); err != nil {
		_ = pr.Close()
		return nil, err
	}
	return &models.IngestResult{
		Source:     resp.Filename,
		ChunkCount: resp.ChunkCount,
		Note:       resp.Note,
		NoText:     resp.Status == "no_text",
	}, nil
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (*app.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	var st app.Status
	if err := c.do(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Documents lists ledger records, newest first.
func (c *Client) Documents(ctx context.Context, offset, limit int) ([]ledger.Record, error) {
	q := url.Values{"offset": {strconv.Itoa(offset)}, "limit": {strconv.Itoa(limit)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/documents?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp server.DocumentsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var body server.ErrorResponse
		if json.Unmarshal(b, &body) == nil && body.Error != "" {
			apiErr.Kind, apiErr.Message = body.Kind, body.Error
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
