package importfeeds

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"vetrefill/jobs/internal/database"
	"vetrefill/jobs/internal/models"
	"vetrefill/jobs/internal/sources"
)

// SourceWriter persists feed sources.
type SourceWriter interface {
	Insert(ctx context.Context, src *models.FeedSource) error
}

// Result summarises an import.
type Result struct {
	Imported int
	Errors   []string
}

// Importer handles the feed source import process
type Importer struct {
	store  SourceWriter
	client *http.Client
}

// NewImporter creates a new feed source importer
func NewImporter(store SourceWriter) *Importer {
	return &Importer{store: store, client: &http.Client{Timeout: 30 * time.Second}}
}

// ImportSources imports feed sources from a CSV file or http(s) URL. When
// the local file does not exist the built-in sources are imported instead.
func (i *Importer) ImportSources(ctx context.Context, csvPath string) (*Result, error) {
	log.Info().Str("csv", csvPath).Msg("Starting source import")

	if !isRemote(csvPath) {
		if _, err := os.Stat(csvPath); os.IsNotExist(err) {
			log.Info().Str("path", csvPath).Msg("CSV file not found, importing built-in sources")
			return i.importDefaults(ctx), nil
		}
	}

	csvData, err := i.getCSVData(ctx, csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get CSV data: %w", err)
	}
	defer csvData.Close()

	res, err := i.parseAndImport(ctx, csvData)
	if err != nil {
		return nil, fmt.Errorf("failed to import sources: %w", err)
	}

	log.Info().
		Int("imported", res.Imported).
		Int("errors", len(res.Errors)).
		Msg("Import completed")
	return res, nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func (i *Importer) getCSVData(ctx context.Context, csvPath string) (io.ReadCloser, error) {
	if !isRemote(csvPath) {
		log.Info().Str("path", csvPath).Msg("Using local CSV file")
		return os.Open(csvPath)
	}

	log.Info().Str("url", csvPath).Msg("Downloading CSV file")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, csvPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (i *Importer) importDefaults(ctx context.Context) *Result {
	res := &Result{}
	for n, def := range sources.Defaults() {
		src := models.NewFeedSource()
		src.URL = def.URL
		src.Name = def.Name
		src.DefaultCategory = def.DefaultCategory
		src.Enabled = def.Enabled
		i.insert(ctx, src, n+1, res)
	}
	return res
}

func (i *Importer) parseAndImport(ctx context.Context, csvData io.Reader) (*Result, error) {
	reader := csv.NewReader(csvData)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	log.Debug().Strs("header", header).Msg("CSV header read")

	for _, column := range []string{"url", "name"} {
		if findColumnIndex(header, column) < 0 {
			return nil, fmt.Errorf("required column '%s' not found in CSV header", column)
		}
	}

	urlIdx := findColumnIndex(header, "url")
	nameIdx := findColumnIndex(header, "name")
	categoryIdx := findColumnIndex(header, "default_category")
	enabledIdx := findColumnIndex(header, "enabled")

	res := &Result{}
	lineCount := 1 // Header was already read

	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}

		src := models.NewFeedSource()
		src.URL = safeGetValue(record, urlIdx)
		src.Name = safeGetValue(record, nameIdx)

		if src.URL == "" {
			log.Warn().Int("line", lineCount).Msg("Skipping row with empty URL")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: empty URL", lineCount))
			continue
		}
		if src.Name == "" {
			src.Name = src.URL
		}

		if v := safeGetValue(record, categoryIdx); v != "" {
			cat, err := models.ParseCategory(v)
			if err != nil {
				log.Warn().Int("line", lineCount).Str("category", v).Msg("Skipping row with unknown category")
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
				continue
			}
			src.DefaultCategory = cat
		}
		if v := safeGetValue(record, enabledIdx); v != "" {
			enabled, err := strconv.ParseBool(v)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: invalid enabled value %q", lineCount, v))
				continue
			}
			src.Enabled = enabled
		}

		i.insert(ctx, src, lineCount, res)
	}

	log.Info().
		Int("total", lineCount-2).
		Int("success", res.Imported).
		Int("errors", len(res.Errors)).
		Msg("Import summary")

	return res, nil
}

func (i *Importer) insert(ctx context.Context, src *models.FeedSource, line int, res *Result) {
	logger := log.With().
		Int("line", line).
		Str("url", src.URL).
		Str("category", string(src.DefaultCategory)).
		Logger()

	if err := i.store.Insert(ctx, src); err != nil {
		if database.IsUniqueViolation(err) {
			logger.Warn().Msg("Duplicate URL")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: duplicate URL: %s", line, src.URL))
		} else {
			logger.Error().Err(err).Msg("Failed to insert source")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
		}
		return
	}

	res.Imported++
	logger.Debug().Msg("Source inserted successfully")
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns the trimmed value at index, or "" when out of range.
func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
