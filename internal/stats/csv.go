package stats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/fleet"
)

// CSVHeader is the first row of every results file.
var CSVHeader = []string{"OrderID", "Algorithm", "Distance", "Duration", "WaitingCount", "CreatedTime", "FinishedTime"}

func csvRow(c fleet.Completion) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	return []string{
		strconv.Itoa(int(c.OrderID)),
		c.Algorithm,
		f(c.RealDistance),
		f(c.Duration),
		strconv.Itoa(c.CollisionCount),
		f(c.CreatedAt),
		f(c.CompletedAt),
	}
}

func newCSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	return cw
}

// WriteCSV writes a header and one row per completion.
func WriteCSV(w io.Writer, rows []fleet.Completion) error {
	cw := newCSVWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, c := range rows {
		if err := cw.Write(csvRow(c)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVExporter appends completion rows to a results file. The header is
// written only when the file is created.
type CSVExporter struct {
	path string
}

// NewCSVExporter prepares path, creating it with a header if missing.
func NewCSVExporter(path string) (*CSVExporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("creating results file: %w", err)
		}
		cw := newCSVWriter(f)
		if err := cw.Write(CSVHeader); err != nil {
			f.Close()
			return nil, err
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking results file: %w", err)
	}
	return &CSVExporter{path: path}, nil
}

// Path returns the results file path.
func (e *CSVExporter) Path() string { return e.path }

// Append writes one row.
func (e *CSVExporter) Append(c fleet.Completion) error {
	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening results file: %w", err)
	}
	cw := newCSVWriter(f)
	if err := cw.Write(csvRow(c)); err != nil {
		f.Close()
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
