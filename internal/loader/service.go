// Package loader bulk-ingests tabular data (CSV or XLSX) into tracked
// entities. Every row travels through the temporal session, so imports
// get clock ticks and history rows like any other mutation.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/schema"
	"github.com/rpattn/temporal/internal/session"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// Result summarizes one bulk load.
type Result struct {
	Created int
	Updated int
	Skipped int
	Errors  []string
}

// Service ingests tabular data into a tracked entity type.
type Service struct {
	sess *session.Session
}

// NewService creates a loader over a temporal session.
func NewService(sess *session.Session) *Service {
	return &Service{sess: sess}
}

// Load parses the payload and upserts one entity per row inside a
// single transaction. Rows whose primary key already exists become a
// clock-tick update; new keys become creations. Malformed rows are
// collected in the result, they do not abort the batch.
func (s *Service) Load(ctx context.Context, mapping *schema.Mapping, fileName string, payload []byte, activity domain.Activity) (Result, error) {
	headers, rows, err := parseTable(fileName, payload)
	if err != nil {
		return Result{}, err
	}

	var result Result

	host := s.sess.Host()
	if err := host.Begin(ctx); err != nil {
		return Result{}, err
	}

	for idx, row := range rows {
		if err := s.loadRow(ctx, mapping, headers, row, activity, &result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", idx+2, err))
			result.Skipped++
		}
	}

	if err := host.Commit(ctx); err != nil {
		if rbErr := host.Rollback(ctx); rbErr != nil {
			log.Printf("[LOADER] rollback after failed commit: %v", rbErr)
		}
		return Result{}, err
	}

	log.Printf("[LOADER] %s: %d created, %d updated, %d skipped", mapping.Table, result.Created, result.Updated, result.Skipped)
	return result, nil
}

func (s *Service) loadRow(ctx context.Context, mapping *schema.Mapping, headers []string, row []string, activity domain.Activity, result *Result) error {
	values := make(map[string]any, len(headers))
	id := domain.Identity{}

	for i, header := range headers {
		if header == "" || i >= len(row) {
			continue
		}
		raw := strings.TrimSpace(row[i])
		if raw == "" {
			continue
		}

		if pkCol, ok := primaryKeyColumn(mapping, header); ok {
			parsed, err := coerceValue(pkCol, raw)
			if err != nil {
				return err
			}
			id[header] = parsed
			continue
		}

		col, ok := mapping.Column(header)
		if !ok {
			continue
		}
		parsed, err := coerceValue(col, raw)
		if err != nil {
			return err
		}
		values[header] = parsed
	}

	for _, pk := range mapping.PrimaryKey {
		if _, ok := id[pk.Name]; !ok {
			if pk.Type != "uuid" {
				return fmt.Errorf("missing primary key column %s", pk.Name)
			}
			id[pk.Name] = uuid.New()
		}
	}

	existing, err := s.sess.Load(ctx, mapping, id)
	switch {
	case err == nil:
		err = s.sess.ClockTick(existing, activity, func(e *domain.Entity) error {
			for attr, value := range values {
				if setErr := e.Set(attr, value); setErr != nil {
					return setErr
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		result.Updated++
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := s.sess.Create(mapping, id, values, activity); err != nil {
			return err
		}
		result.Created++
	default:
		return err
	}

	return s.sess.Host().Flush(ctx)
}

func primaryKeyColumn(mapping *schema.Mapping, name string) (schema.Column, bool) {
	for _, pk := range mapping.PrimaryKey {
		if pk.Name == name {
			return pk, true
		}
	}
	return schema.Column{}, false
}

// coerceValue converts a cell into the column's value space.
func coerceValue(col schema.Column, raw string) (any, error) {
	if col.References != nil {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid reference id %q", col.Name, raw)
		}
		return domain.Ref{ID: id}, nil
	}

	switch strings.ToLower(col.Type) {
	case "integer", "bigint", "smallint":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer %q", col.Name, raw)
		}
		return n, nil
	case "numeric", "double precision", "real":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", col.Name, raw)
		}
		return f, nil
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid boolean %q", col.Name, raw)
		}
		return b, nil
	case "uuid":
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid uuid %q", col.Name, raw)
		}
		return id, nil
	case "timestamptz", "timestamp":
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%s: invalid timestamp %q", col.Name, raw)
	default:
		return raw, nil
	}
}

func parseTable(fileName string, payload []byte) ([]string, [][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) ([]string, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

func normalizeTable(records [][]string) ([]string, [][]string, error) {
	var headers []string
	var rows [][]string

	for _, row := range records {
		if emptyRow(row) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i, cell := range row {
				headers[i] = strings.ToLower(strings.TrimSpace(cell))
			}
			continue
		}
		rows = append(rows, row)
	}

	if headers == nil {
		return nil, nil, errors.New("header row could not be detected")
	}
	return headers, rows, nil
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
