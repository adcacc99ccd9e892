// Package books is the client for the remote book catalog and
// recommendation API. The application consumes it as-is; it owns no book
// data of its own.
package books

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrCatalogUnavailable indicates the catalog API returned a non-2xx status.
var ErrCatalogUnavailable = errors.New("books.catalog_unavailable")

// Book is a catalog record. Fields mirror the remote API payload.
type Book struct {
	BookID        int     `json:"book_id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Authors       string  `json:"authors"`
	AverageRating float64 `json:"average_rating"`
	ImageURL      string  `json:"image_url"`
	SmallImageURL string  `json:"small_image_url"`
}

// Page is one window of the catalog list.
type Page struct {
	Books      []Book `json:"books"`
	Total      int    `json:"total"`
	PageNumber int    `json:"page"`
	PerPage    int    `json:"per_page"`
	PageCount  int    `json:"page_count"`
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the catalog API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a catalog client.
func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, errors.New("books.missing_base_url")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ListBooks fetches the full catalog.
func (client *Client) ListBooks(ctx context.Context) ([]Book, error) {
	var catalog []Book
	if err := client.getJSON(ctx, client.baseURL+"/books", &catalog); err != nil {
		return nil, fmt.Errorf("books.list: %w", err)
	}
	return catalog, nil
}

// GetBook fetches a single catalog record.
func (client *Client) GetBook(ctx context.Context, bookID int) (*Book, error) {
	var record Book
	if err := client.getJSON(ctx, client.baseURL+"/books/"+strconv.Itoa(bookID), &record); err != nil {
		return nil, fmt.Errorf("books.get: %w", err)
	}
	return &record, nil
}

// GetRecommendations fetches recommendations for a book. A failing
// recommendation call degrades to an empty list; the detail view still
// renders without suggestions.
func (client *Client) GetRecommendations(ctx context.Context, bookID int) []Book {
	var payload struct {
		Recommendations []Book `json:"recommendations"`
	}
	if err := client.getJSON(ctx, client.baseURL+"/recommend/"+strconv.Itoa(bookID), &payload); err != nil {
		client.logger.Warn("recommendation fetch failed",
			zap.String("code", "books.recommend"),
			zap.Int("book_id", bookID),
			zap.Error(err))
		return []Book{}
	}
	if payload.Recommendations == nil {
		return []Book{}
	}
	return payload.Recommendations
}

// CreateBook adds a catalog record.
func (client *Client) CreateBook(ctx context.Context, record Book) error {
	if err := client.sendJSON(ctx, http.MethodPost, client.baseURL+"/books", record); err != nil {
		return fmt.Errorf("books.create: %w", err)
	}
	return nil
}

// UpdateBook replaces a catalog record.
func (client *Client) UpdateBook(ctx context.Context, bookID int, record Book) error {
	if err := client.sendJSON(ctx, http.MethodPut, client.baseURL+"/books/"+strconv.Itoa(bookID), record); err != nil {
		return fmt.Errorf("books.update: %w", err)
	}
	return nil
}

// DeleteBook removes a catalog record.
func (client *Client) DeleteBook(ctx context.Context, bookID int) error {
	if err := client.sendJSON(ctx, http.MethodDelete, client.baseURL+"/books/"+strconv.Itoa(bookID), nil); err != nil {
		return fmt.Errorf("books.delete: %w", err)
	}
	return nil
}

// Paginate slices a catalog list into a page. Page numbers are 1-based and
// clamped into range; per-page values below 1 fall back to the list length.
func Paginate(catalog []Book, pageNumber int, perPage int) Page {
	total := len(catalog)
	if perPage < 1 {
		perPage = total
		if perPage < 1 {
			perPage = 1
		}
	}
	pageCount := (total + perPage - 1) / perPage
	if pageCount < 1 {
		pageCount = 1
	}
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageNumber > pageCount {
		pageNumber = pageCount
	}
	start := (pageNumber - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return Page{
		Books:      catalog[start:end],
		Total:      total,
		PageNumber: pageNumber,
		PerPage:    perPage,
		PageCount:  pageCount,
	}
}

func (client *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if requestErr != nil {
		return requestErr
	}
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrCatalogUnavailable, response.StatusCode)
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (client *Client) sendJSON(ctx context.Context, method string, endpoint string, requestBody any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, encodeErr := json.Marshal(requestBody)
		if encodeErr != nil {
			return encodeErr
		}
		bodyReader = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if requestErr != nil {
		return requestErr
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrCatalogUnavailable, response.StatusCode)
	}
	return nil
}
