package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDirectory talks to a remote student directory service over JSON REST:
//
//	GET   /students?studentId=X  -> 200 Student | 404
//	GET   /students              -> 200 [Student]
//	POST  /students              -> 201 Student
//	PATCH /students/{id}         -> 200 Student | 404
type HTTPDirectory struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPDirectory creates a client with a bounded timeout.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPDirectory) FindByExternalID(ctx context.Context, studentID string) (*Student, error) {
	var st Student
	status, err := c.do(ctx, http.MethodGet, "/students?studentId="+url.QueryEscape(studentID), nil, &st)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPDirectory) Create(ctx context.Context, st Student) (Student, error) {
	var out Student
	if _, err := c.do(ctx, http.MethodPost, "/students", st, &out); err != nil {
		return Student{}, err
	}
	return out, nil
}

func (c *HTTPDirectory) Update(ctx context.Context, id string, patch StudentPatch) (Student, error) {
	var out Student
	status, err := c.do(ctx, http.MethodPatch, "/students/"+url.PathEscape(id), patch, &out)
	if status == http.StatusNotFound {
		return Student{}, fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	if err != nil {
		return Student{}, err
	}
	return out, nil
}

func (c *HTTPDirectory) List(ctx context.Context) ([]Student, error) {
	out := []Student{}
	if _, err := c.do(ctx, http.MethodGet, "/students", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do sends a JSON request and decodes a 2xx response into out. The status
// code is returned even when err is non-nil so callers can detect 404.
func (c *HTTPDirectory) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("directory error %s: %s", resp.Status, strings.TrimSpace(string(bodyBytes)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
