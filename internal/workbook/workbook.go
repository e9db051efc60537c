// Package workbook loads spreadsheet fixtures into a record store: every sheet
// becomes a source and every row a record.
package workbook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/repository"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported workbook format")
	byteOrderMark        = []byte{0xEF, 0xBB, 0xBF}
)

// listSuffix marks a header whose cells hold comma-separated values.
const listSuffix = "[]"

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// Sheet is one normalised table of a workbook.
type Sheet struct {
	Source  string
	Headers []string
	// Lists flags headers whose cells are split into multiple values.
	Lists []bool
	Rows  [][]string
}

// SourceSummary reports what was loaded for one source.
type SourceSummary struct {
	Source  string   `json:"source"`
	Fields  []string `json:"fields"`
	Records int      `json:"records"`
}

// Loader converts sheets into records.
type Loader struct {
	now func() time.Time
}

// NewLoader returns a Loader stamping rows without a date_created with now.
func NewLoader(now func() time.Time) *Loader {
	if now == nil {
		now = time.Now
	}
	return &Loader{now: now}
}

// LoadFile reads a .xlsx or .csv file and saves its rows into writer.
func (l *Loader) LoadFile(ctx context.Context, path string, writer repository.RecordWriter) ([]SourceSummary, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return l.Load(ctx, filepath.Base(path), payload, writer)
}

// Load parses payload and saves its rows into writer, one source per sheet.
func (l *Loader) Load(ctx context.Context, fileName string, payload []byte, writer repository.RecordWriter) ([]SourceSummary, error) {
	sheets, err := Parse(fileName, payload)
	if err != nil {
		return nil, err
	}
	summaries := make([]SourceSummary, 0, len(sheets))
	for _, sheet := range sheets {
		records, err := l.Records(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet.Source, err)
		}
		if err := writer.Save(ctx, records...); err != nil {
			return nil, fmt.Errorf("save sheet %s: %w", sheet.Source, err)
		}
		summaries = append(summaries, SourceSummary{Source: sheet.Source, Fields: sheet.fieldIDs(), Records: len(records)})
	}
	return summaries, nil
}

// Sources describes the sheets as view sources, keeping header order.
func Sources(sheets []Sheet) []domain.Source {
	sources := make([]domain.Source, 0, len(sheets))
	for _, sheet := range sheets {
		source := domain.Source{ID: sheet.Source}
		for _, id := range sheet.fieldIDs() {
			source.Fields = append(source.Fields, domain.FieldDefinition{ID: id})
		}
		sources = append(sources, source)
	}
	return sources
}

// Parse reads every sheet of an .xlsx payload, or a .csv payload as a single
// sheet named after the file.
func Parse(fileName string, payload []byte) ([]Sheet, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		rows, err := readCSV(payload)
		if err != nil {
			return nil, err
		}
		sheet, err := normalizeSheet(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)), rows)
		if err != nil {
			return nil, err
		}
		return []Sheet{sheet}, nil
	case ".xlsx":
		return readExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readExcel(payload []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	sheets := make([]Sheet, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read rows from sheet %s: %w", name, err)
		}
		if len(cleanRow(flatten(rows))) == 0 {
			continue
		}
		sheet, err := normalizeSheet(name, rows)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

func normalizeSheet(name string, records [][]string) (Sheet, error) {
	source := slugify(name)
	if source == "" {
		return Sheet{}, fmt.Errorf("sheet name %q does not yield a source id", name)
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return Sheet{}, errors.New("header row could not be detected")
	}

	lists := make([]bool, len(headerRow))
	trimmed := make([]string, len(headerRow))
	for i, header := range headerRow {
		header = strings.TrimSpace(header)
		if strings.HasSuffix(header, listSuffix) {
			lists[i] = true
			header = strings.TrimSuffix(header, listSuffix)
		}
		trimmed[i] = header
	}
	headers := sanitizeHeaders(trimmed)

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	return Sheet{Source: source, Headers: headers, Lists: lists, Rows: filterEmptyRows(dataRows)}, nil
}

// Records converts the sheet's rows. Metadata columns fill record metadata;
// every other column becomes a field.
func (l *Loader) Records(sheet Sheet) ([]domain.Record, error) {
	records := make([]domain.Record, 0, len(sheet.Rows))
	for rowIndex, row := range sheet.Rows {
		record := domain.Record{
			SourceID: sheet.Source,
			Fields:   map[string]any{},
			Approved: true,
			Status:   domain.RecordStatusActive,
		}
		for i, header := range sheet.Headers {
			raw := strings.TrimSpace(row[i])
			switch strings.ToLower(header) {
			case domain.FieldEntryID:
				record.ID = raw
			case domain.FieldApproved:
				if raw != "" {
					record.Approved = looksTrue(raw)
				}
			case domain.FieldStatus:
				if raw != "" {
					record.Status = domain.RecordStatus(strings.ToLower(raw))
				}
			case domain.FieldCreatedBy:
				if raw == "" {
					continue
				}
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("row %d: created_by %q is not numeric", rowIndex+2, raw)
				}
				record.CreatedBy = id
			case domain.FieldDateCreated:
				if raw == "" {
					continue
				}
				ts, err := parseTimestamp(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d: date_created %q: %w", rowIndex+2, raw, err)
				}
				record.CreatedAt = ts.UTC()
			default:
				if sheet.Lists[i] {
					record.Fields[header] = splitList(raw)
				} else {
					record.Fields[header] = raw
				}
			}
		}
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = l.now().UTC()
		}
		record.UpdatedAt = record.CreatedAt
		records = append(records, record)
	}
	return records, nil
}

func (s Sheet) fieldIDs() []string {
	var ids []string
	for _, header := range s.Headers {
		if !domain.IsMetadataField(strings.ToLower(header)) {
			ids = append(ids, header)
		}
	}
	return ids
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func looksTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "approved":
		return true
	}
	return false
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = slugPattern.ReplaceAllString(value, "_")
	return strings.Trim(value, "_")
}

func flatten(rows [][]string) []string {
	var out []string
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.ReplaceAll(name, ":", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		if len(cleanRow(row)) > 0 {
			filtered = append(filtered, row)
		}
	}
	return filtered
}
