package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Loader fetches an ensemble input.
type Loader interface {
	Load(ctx context.Context, ref string) (*Input, error)
}

// FileLoader reads inputs from disk. ref is a path below Dir; an empty ref
// reads Path.
type FileLoader struct {
	Dir  string
	Path string
}

func (l FileLoader) Load(_ context.Context, ref string) (*Input, error) {
	path := l.Path
	if ref != "" {
		clean := filepath.Clean(ref)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return nil, ensemble.Configf("input reference %q escapes the input directory", ref)
		}
		path = filepath.Join(l.Dir, clean)
	}
	if path == "" {
		return nil, ensemble.Configf("no input path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return Decode(data)
}

// MaxInputBytes caps the size of an input document read from the network.
const MaxInputBytes = 32 << 20

// HTTPClient fetches inputs from a distance service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxBytes   int64
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   MaxInputBytes,
	}
}

// Load fetches /api/v1/inputs/{ref}.
func (c *HTTPClient) Load(ctx context.Context, ref string) (*Input, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/inputs/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/yaml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("source: input %q exceeds %d bytes", ref, c.maxBytes)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("source: %d %s", resp.StatusCode, string(body))
	}
	return Decode(body)
}
