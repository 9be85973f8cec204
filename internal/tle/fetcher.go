package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultSourceURL is the CelesTrak feed of all active satellites.
const DefaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle"

const (
	maxBodyBytes = 50 * 1024 * 1024
	userAgent    = "tletrack/1.0"
)

// Fetcher retrieves raw TLE text from a primary source and any number of
// supplementary sources.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL. Extra URLs are fetched
// after the primary and appended to its body.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Sources returns the primary URL followed by the extra URLs.
func (f *Fetcher) Sources() []string {
	return append([]string{f.sourceURL}, f.extraURLs...)
}

// Fetch retrieves the primary source, then each extra source. A failing extra
// source is logged and skipped; a failing primary fails the fetch.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}

	if len(f.extraURLs) == 0 {
		return body, nil
	}

	buf := bytes.NewBuffer(body)
	for _, u := range f.extraURLs {
		extra, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra TLE source failed, skipping",
				"component", "tle",
				"url", u,
				"error", err,
			)
			continue
		}
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.Write(extra)
	}

	return buf.Bytes(), nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}

	return body, nil
}
