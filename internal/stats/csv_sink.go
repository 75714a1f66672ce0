package stats

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"neurodrive/internal/model"
)

var generationLogHeader = []string{"generation", "bestRecord", "genBestRecord", "avgReward"}

// CSVSink appends generation records to <dir>/<scene>_log.csv. Records at or
// below the last persisted generation are skipped, so replays after a crash
// do not duplicate rows.
type CSVSink struct {
	path string

	mu     sync.Mutex
	loaded bool
	last   int
}

func NewCSVSink(dir, scene string) (*CSVSink, error) {
	if scene == "" {
		return nil, errors.New("scene name is required")
	}
	return &CSVSink{path: filepath.Join(dir, scene+"_log.csv")}, nil
}

func (s *CSVSink) Path() string {
	return s.path
}

func (s *CSVSink) Append(ctx context.Context, record model.GenerationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		existing, err := ReadGenerationLog(s.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		s.last = -1
		for _, r := range existing {
			if r.Generation > s.last {
				s.last = r.Generation
			}
		}
		s.loaded = true
	}
	if record.Generation <= s.last {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(generationLogHeader); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{
		strconv.Itoa(record.Generation),
		strconv.FormatFloat(record.BestRecord, 'f', -1, 64),
		strconv.FormatFloat(record.GenBestRecord, 'f', -1, 64),
		strconv.FormatFloat(record.AvgReward, 'f', -1, 64),
	}); err != nil {
		return err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	s.last = record.Generation
	return nil
}

// ReadGenerationLog parses a log written by CSVSink.
func ReadGenerationLog(path string) ([]model.GenerationRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.GenerationRecord{}, nil
		}
		return nil, err
	}
	if len(header) != len(generationLogHeader) {
		return nil, fmt.Errorf("generation log header must have %d columns, got %d", len(generationLogHeader), len(header))
	}
	for i, name := range generationLogHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected generation log column %d: got=%s want=%s", i, header[i], name)
		}
	}

	records := make([]model.GenerationRecord, 0, 64)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		record, err := parseGenerationRow(row)
		if err != nil {
			return nil, fmt.Errorf("generation log line %d: %w", line, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func parseGenerationRow(row []string) (model.GenerationRecord, error) {
	generation, err := strconv.Atoi(row[0])
	if err != nil {
		return model.GenerationRecord{}, err
	}
	values := make([]float64, 3)
	for i := range values {
		values[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return model.GenerationRecord{}, err
		}
	}
	return model.GenerationRecord{
		Generation:    generation,
		BestRecord:    values[0],
		GenBestRecord: values[1],
		AvgReward:     values[2],
	}, nil
}
