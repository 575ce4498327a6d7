package orders

import (
	"bytes"
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/fetch"
)

// DefaultURL is where the orders file is published.
const DefaultURL = "https://robotsparebinindustries.com/orders.csv"

// DefaultCachePath is the local copy of the orders file, replaced on each fetch.
const DefaultCachePath = "orders.csv"

// Source downloads the orders file and parses it.
type Source struct {
	URL       string
	CachePath string
	Options   *fetch.Options
	Logger    *zap.Logger
}

// NewSource creates a source for url caching to cachePath.
func NewSource(url, cachePath string, logger *zap.Logger) *Source {
	if url == "" {
		url = DefaultURL
	}
	if cachePath == "" {
		cachePath = DefaultCachePath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{URL: url, CachePath: cachePath, Options: fetch.DefaultOptions(), Logger: logger}
}

// Fetch downloads the orders file, overwriting the cached copy, and parses it.
func (s *Source) Fetch(ctx context.Context) (*Table, error) {
	s.Logger.Info("downloading orders", zap.String("url", s.URL), zap.String("dest", s.CachePath))

	result, err := fetch.Download(ctx, s.URL, s.CachePath, s.Options)
	if err != nil {
		var fetchErr *fetch.Error
		if errors.As(err, &fetchErr) {
			return nil, &FetchError{Source: s.URL, Message: fetchErr.Message, Cause: err}
		}
		return nil, &FetchError{Source: s.URL, Message: "download failed", Cause: err}
	}

	table, err := Parse(bytes.NewReader(result.Body))
	if err != nil {
		return nil, err
	}

	s.Logger.Info("orders loaded", zap.Int("rows", table.Len()))
	return table, nil
}
