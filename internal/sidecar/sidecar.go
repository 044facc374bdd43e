package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// metadata is the slice of the job's metadata blob the generator cares
// about. The blob itself is hub-defined; unknown fields pass through
// untouched into the description sidecar.
type metadata struct {
	PreviewURL string `json:"previewUrl"`
	Images     []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// Generator writes auxiliary files next to an installed model: a
// description JSON and, when enabled, a fetched preview image.
type Generator struct {
	savePreviews bool
	httpClient   *http.Client
}

func New(savePreviews bool) *Generator {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 60 * time.Second

	return &Generator{
		savePreviews: savePreviews,
		httpClient:   retryClient.StandardClient(),
	}
}

// Generate writes the sidecars for installedPath. The metadata blob is
// stored as-is (indented) with the verified hash attached; a preview
// image is fetched only when configured and the metadata names one.
func (g *Generator) Generate(ctx context.Context, installedPath, sha256 string, meta json.RawMessage) error {
	if len(meta) == 0 {
		return nil
	}

	base := strings.TrimSuffix(installedPath, filepath.Ext(installedPath))

	if err := g.writeDescription(base, sha256, meta); err != nil {
		return err
	}

	if !g.savePreviews {
		return nil
	}
	previewURL := previewFrom(meta)
	if previewURL == "" {
		return nil
	}
	return g.fetchPreview(ctx, base, previewURL)
}

func (g *Generator) writeDescription(base, sha256 string, meta json.RawMessage) error {
	// Re-indent the blob and attach the verified hash so the sidecar is
	// self-describing.
	var doc map[string]interface{}
	if err := json.Unmarshal(meta, &doc); err != nil {
		return fmt.Errorf("invalid job metadata: %w", err)
	}
	doc["sha256"] = sha256

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	out := base + ".civitai.json"
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

func (g *Generator) fetchPreview(ctx context.Context, base, previewURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
	if err != nil {
		return fmt.Errorf("invalid preview URL %q: %w", previewURL, err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch preview: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch preview: status %d", resp.StatusCode)
	}

	out := base + ".preview" + previewExt(previewURL)
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(out)
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

func previewFrom(meta json.RawMessage) string {
	var m metadata
	if err := json.Unmarshal(meta, &m); err != nil {
		return ""
	}
	if m.PreviewURL != "" {
		return m.PreviewURL
	}
	if len(m.Images) > 0 {
		return m.Images[0].URL
	}
	return ""
}

func previewExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpeg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return ext
	default:
		return ".jpeg"
	}
}
