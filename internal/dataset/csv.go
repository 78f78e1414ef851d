// Package dataset reads and writes the CSV representations of observation
// tables and residual reports.  CSV is the interchange format of the fit and
// residuals CLI commands and of the HTTP upload endpoint.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// Observation CSV column names.  unit_id, infrastructure, and observed_count
// are required; the coordinate columns are optional and default to zero.
const (
	colUnitID         = "unit_id"
	colInfrastructure = "infrastructure"
	colObservedCount  = "observed_count"
	colX              = "x_coord"
	colY              = "y_coord"
)

// Read parses an observation table from r.  The first record must be a header
// naming at least the required columns, in any order.  Counts must be
// non-negative integers; a fractional count is a parse error, not a rounding
// opportunity.
func Read(r io.Reader) (*demand.Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.New(errors.ErrCodeDatasetParse, "failed to read CSV header").WithCause(err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{colUnitID, colInfrastructure, colObservedCount} {
		if _, ok := idx[required]; !ok {
			return nil, errors.New(errors.ErrCodeDatasetParse, "missing required column").
				WithDetailf("column=%s", required)
		}
	}

	ds := &demand.Dataset{}
	seen := make(map[string]bool)
	for row := 2; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(errors.ErrCodeDatasetParse, "malformed CSV record").
				WithDetailf("row=%d", row).WithCause(err)
		}

		o, err := parseRow(record, idx, row)
		if err != nil {
			return nil, err
		}
		if seen[o.UnitID] {
			return nil, errors.New(errors.ErrCodeDatasetDuplicate, "duplicate unit ID").
				WithDetailf("row=%d unit_id=%s", row, o.UnitID)
		}
		seen[o.UnitID] = true
		ds.Observations = append(ds.Observations, o)
	}
	return ds, nil
}

// ReadFile is Read over a file path.
func ReadFile(path string) (*demand.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeDatasetParse, "failed to open dataset file").
			WithDetailf("path=%s", path).WithCause(err)
	}
	defer f.Close()
	return Read(f)
}

func parseRow(record []string, idx map[string]int, row int) (demand.Observation, error) {
	var o demand.Observation

	field := func(col string) (string, bool) {
		i, ok := idx[col]
		if !ok || i >= len(record) {
			return "", false
		}
		return record[i], true
	}

	id, ok := field(colUnitID)
	if !ok || id == "" {
		return o, errors.New(errors.ErrCodeDatasetParse, "empty unit ID").WithDetailf("row=%d", row)
	}
	o.UnitID = id

	rawInfra, _ := field(colInfrastructure)
	infra, err := strconv.ParseFloat(rawInfra, 64)
	if err != nil || math.IsNaN(infra) || math.IsInf(infra, 0) {
		return o, errors.New(errors.ErrCodeDatasetParse, "invalid infrastructure value").
			WithDetailf("row=%d value=%q", row, rawInfra)
	}
	o.Infrastructure = infra

	rawCount, _ := field(colObservedCount)
	count, err := strconv.ParseInt(rawCount, 10, 64)
	if err != nil || count < 0 {
		return o, errors.New(errors.ErrCodeDatasetParse, "invalid observed count").
			WithDetailf("row=%d value=%q", row, rawCount)
	}
	o.ObservedCount = int(count)

	if raw, ok := field(colX); ok && raw != "" {
		if o.X, err = strconv.ParseFloat(raw, 64); err != nil {
			return o, errors.New(errors.ErrCodeDatasetParse, "invalid x coordinate").
				WithDetailf("row=%d value=%q", row, raw)
		}
	}
	if raw, ok := field(colY); ok && raw != "" {
		if o.Y, err = strconv.ParseFloat(raw, 64); err != nil {
			return o, errors.New(errors.ErrCodeDatasetParse, "invalid y coordinate").
				WithDetailf("row=%d value=%q", row, raw)
		}
	}
	return o, nil
}

// Write renders the observation table to w with the full five-column header.
func Write(w io.Writer, ds *demand.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{colUnitID, colInfrastructure, colObservedCount, colX, colY}); err != nil {
		return errors.New(errors.ErrCodeSerialization, "failed to write CSV header").WithCause(err)
	}
	for _, o := range ds.Observations {
		record := []string{
			o.UnitID,
			strconv.FormatFloat(o.Infrastructure, 'g', -1, 64),
			strconv.Itoa(o.ObservedCount),
			strconv.FormatFloat(o.X, 'g', -1, 64),
			strconv.FormatFloat(o.Y, 'g', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return errors.New(errors.ErrCodeSerialization, "failed to write CSV record").
				WithDetailf("unit_id=%s", o.UnitID).WithCause(err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.New(errors.ErrCodeSerialization, "failed to flush CSV output").WithCause(err)
	}
	return nil
}

// WriteFile is Write over a file path.
func WriteFile(path string, ds *demand.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.New(errors.ErrCodeSerialization, "failed to create dataset file").
			WithDetailf("path=%s", path).WithCause(err)
	}
	defer f.Close()
	return Write(f, ds)
}

// WriteResiduals renders the residual report to w.
func WriteResiduals(w io.Writer, records []demand.ResidualRecord) error {
	cw := csv.NewWriter(w)
	header := []string{
		colUnitID, colObservedCount, "expected_count",
		"residual", "standardized_residual", "classification", colX, colY,
	}
	if err := cw.Write(header); err != nil {
		return errors.New(errors.ErrCodeSerialization, "failed to write CSV header").WithCause(err)
	}
	for _, r := range records {
		record := []string{
			r.UnitID,
			strconv.Itoa(r.ObservedCount),
			fmt.Sprintf("%.6f", r.ExpectedCount),
			fmt.Sprintf("%.6f", r.Residual),
			fmt.Sprintf("%.6f", r.StandardizedResidual),
			string(r.Classification),
			strconv.FormatFloat(r.X, 'g', -1, 64),
			strconv.FormatFloat(r.Y, 'g', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return errors.New(errors.ErrCodeSerialization, "failed to write CSV record").
				WithDetailf("unit_id=%s", r.UnitID).WithCause(err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.New(errors.ErrCodeSerialization, "failed to flush CSV output").WithCause(err)
	}
	return nil
}

// WriteResidualsFile is WriteResiduals over a file path.
func WriteResidualsFile(path string, records []demand.ResidualRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.New(errors.ErrCodeSerialization, "failed to create residuals file").
			WithDetailf("path=%s", path).WithCause(err)
	}
	defer f.Close()
	return WriteResiduals(f, records)
}
