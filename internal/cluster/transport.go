package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

// RemoteError carries the message a remote node returned with a failed
// request, so callers see the server-side cause rather than a bare status.
type RemoteError struct {
	URL     string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Status)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Status, e.Message)
}

// ErrorBody is the JSON shape of every error response in the cluster.
type ErrorBody struct {
	Error string `json:"error"`
}

var httpClient = NewHTTPClient(5 * time.Second)

// NewHTTPClient returns a client whose transport transparently negotiates
// gzip with peers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: gzhttp.Transport(http.DefaultTransport),
	}
}

// PostJSON posts body as JSON to url using the default cluster client and
// decodes the response into out when out is non-nil.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return DoJSON(ctx, httpClient, http.MethodPost, url, body, out)
}

// GetJSON issues a GET to url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return DoJSON(ctx, httpClient, http.MethodGet, url, nil, out)
}

// DoJSON performs one JSON request with the given client. Responses with a
// status of 300 or above are returned as *RemoteError.
func DoJSON(ctx context.Context, client *http.Client, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return remoteError(url, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func remoteError(url string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	rerr := &RemoteError{URL: url, Status: resp.StatusCode}
	var eb ErrorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		rerr.Message = eb.Error
	} else {
		rerr.Message = strings.TrimSpace(string(raw))
	}
	return rerr
}

// IsRemoteStatus reports whether err is a RemoteError with the given status.
func IsRemoteStatus(err error, status int) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr) && rerr.Status == status
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes an ErrorBody response.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorBody{Error: err.Error()})
}
