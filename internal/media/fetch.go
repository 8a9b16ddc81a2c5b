package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrTooLarge is returned when an attachment exceeds the configured size cap.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// File is a downloaded attachment on local disk. Close removes it.
type File struct {
	Path        string
	Name        string
	ContentType string
	Kind        Kind
	Size        int64
}

func (f *File) Open() (*os.File, error) { return os.Open(f.Path) }

func (f *File) ReadAll() ([]byte, error) { return os.ReadFile(f.Path) }

// Close removes the temp file. Safe to call more than once.
func (f *File) Close() error {
	if f == nil || f.Path == "" {
		return nil
	}
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return err
}

// Source describes what to download.
type Source struct {
	URL         string
	Filename    string
	ContentType string
}

type Fetcher interface {
	Fetch(ctx context.Context, src Source) (*File, error)
}

type FetcherConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	// TempDir defaults to os.TempDir().
	TempDir string
}

// HTTPFetcher downloads attachments over HTTP(S) into temp files.
type HTTPFetcher struct {
	cfg  FetcherConfig
	http *http.Client
}

func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPFetcher{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// WithClient replaces the HTTP client (tests).
func (f *HTTPFetcher) WithClient(c *http.Client) *HTTPFetcher {
	if c != nil {
		f.http = c
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) (*File, error) {
	if strings.TrimSpace(src.URL) == "" {
		return nil, errors.New("attachment url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("download %s: http %d", src.Filename, resp.StatusCode)
	}

	name := src.Filename
	if name == "" {
		name = "attachment"
	}
	pattern := "discopilot-*"
	if ext := Ext(name); ext != "" {
		pattern += "." + ext
	}
	tmp, err := os.CreateTemp(f.cfg.TempDir, pattern)
	if err != nil {
		return nil, err
	}
	file := &File{
		Path:        tmp.Name(),
		Name:        name,
		ContentType: firstNonEmpty(src.ContentType, resp.Header.Get("Content-Type")),
	}
	file.Kind = KindOf(name, file.ContentType)

	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && f.cfg.MaxBytes > 0 && n > f.cfg.MaxBytes {
		err = fmt.Errorf("%w: %s (> %d bytes)", ErrTooLarge, name, f.cfg.MaxBytes)
	}
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	file.Size = n
	return file, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
