package coordinator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alexzouz/ha-linky/internal/models"
	"github.com/alexzouz/ha-linky/internal/statistics"
)

const (
	csvStartColumn = "debut"
	csvPowerColumn = "kW"
)

var (
	ErrNoRecords      = errors.New("no valid records found in CSV")
	ErrMissingColumns = fmt.Errorf("CSV header must contain %q and %q", csvStartColumn, csvPowerColumn)

	utf8BOM = []byte{0xEF, 0xBB, 0xBF}
)

// ReadCSV reads a Linky load curve export: semicolon separated, optional
// UTF-8 byte order mark, a header row naming the columns. Rows missing the
// start or the power cell are dropped.
func ReadCSV(r io.Reader) ([]models.RawReading, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	startIdx, powerIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case csvStartColumn:
			startIdx = i
		case csvPowerColumn:
			powerIdx = i
		}
	}
	if startIdx < 0 || powerIdx < 0 {
		return nil, ErrMissingColumns
	}

	var rows []models.RawReading
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		if startIdx >= len(record) || powerIdx >= len(record) {
			continue
		}
		start, power := strings.TrimSpace(record[startIdx]), strings.TrimSpace(record[powerIdx])
		if start == "" || power == "" {
			continue
		}
		rows = append(rows, models.RawReading{Date: start, Value: models.Measure(power)})
	}
	return rows, nil
}

// ImportCSV writes the energy series from a CSV export. Sums restart at 0
// and hours already stored are overwritten.
func (c *Coordinator) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	if !c.running.CompareAndSwap(false, true) {
		return 0, ErrSyncInProgress
	}
	defer c.running.Store(false)

	rows, err := ReadCSV(r)
	if err != nil {
		return 0, err
	}
	points := statistics.NormalizeCSV(rows, c.loc)
	if len(points) == 0 {
		c.logger.WithField("prm", c.meter.PRM).Warn("No valid records found in CSV file")
		return 0, ErrNoRecords
	}

	c.logger.WithField("prm", c.meter.PRM).Infof("Found %d data points in CSV from %s to %s",
		len(points),
		points[0].Time.Format("2006-01-02"),
		points[len(points)-1].Time.Format("2006-01-02"),
	)

	stats := statistics.ToStatistics(statistics.Aggregate(points))
	if err := c.write(ctx, false, stats); err != nil {
		return 0, err
	}
	c.logger.WithField("prm", c.meter.PRM).Info("CSV import completed")
	return len(stats), nil
}

// Reset deletes the energy and cost series of the meter.
func (c *Coordinator) Reset(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer c.running.Store(false)

	if err := c.store.ClearStatistics(ctx, c.ID(), c.CostID()); err != nil {
		return err
	}
	c.logger.WithField("prm", c.meter.PRM).Info("Statistics reset")
	return nil
}
