package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// ArchivePrefix is the optional marker in front of a session id and of the
// archive text served for it.
const ArchivePrefix = "gisthq~"

const maxArchiveSize = 64 << 20

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	sqliteMagic = []byte("SQLite format 3\x00")
)

// DecodeArchive turns the text served for a session id into the raw
// sqlite database. The text is base64, optionally prefixed, and may be
// gzip or zstd compressed.
func DecodeArchive(text []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(text))
	trimmed = strings.TrimPrefix(trimmed, ArchivePrefix)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty archive", ErrSessionCorrupt)
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(trimmed); err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %w", ErrSessionCorrupt, err)
		}
	}

	switch {
	case bytes.HasPrefix(raw, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionCorrupt, err)
		}
		defer zr.Close()
		raw, err = io.ReadAll(io.LimitReader(zr, maxArchiveSize))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %w", ErrSessionCorrupt, err)
		}
	case bytes.HasPrefix(raw, zstdMagic):
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxArchiveSize))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrSessionCorrupt, err)
		}
	}
	if !bytes.HasPrefix(raw, sqliteMagic) {
		return nil, fmt.Errorf("%w: archive is not a session database", ErrSessionCorrupt)
	}
	return raw, nil
}

// Fetcher downloads session archives.
type Fetcher struct {
	Client   *http.Client
	BaseURL  string
	Attempts int
	Delay    time.Duration
	Log      zerolog.Logger
}

var errHTTPStatus = errors.New("unexpected HTTP status")

// Fetch downloads the archive for id. Network failures are retried; a
// 404 is not.
func (f *Fetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	url := strings.TrimSuffix(f.BaseURL, "/") + "/" + strings.TrimPrefix(id, ArchivePrefix)
	attempts := max(f.Attempts, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		body, status, err := f.get(ctx, url)
		switch {
		case err == nil && status == http.StatusOK:
			return body, nil
		case err == nil && status == http.StatusNotFound:
			return nil, fmt.Errorf("%w: no archive for session id", ErrNotFound)
		case err == nil:
			err = fmt.Errorf("%w %d", errHTTPStatus, status)
		}
		lastErr = err
		f.Log.Warn().Err(err).Int("attempt", i).Int("max_attempts", attempts).Msg("Failed to fetch session archive")
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	return nil, fmt.Errorf("failed to fetch session archive after %d attempts: %w", attempts, lastErr)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveSize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
