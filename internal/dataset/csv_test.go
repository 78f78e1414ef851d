package dataset

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

const sampleCSV = `unit_id,infrastructure,observed_count,x_coord,y_coord
N-0000,0.12,3,10.5,20.1
N-0001,0.45,0,30.0,40.0
N-0002,0.78,15,5.2,8.8
`

func TestRead(t *testing.T) {
	ds, err := Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())

	assert.Equal(t, demand.Observation{
		UnitID: "N-0000", Infrastructure: 0.12, ObservedCount: 3, X: 10.5, Y: 20.1,
	}, ds.Observations[0])
	assert.Equal(t, 0, ds.Observations[1].ObservedCount)
	assert.Equal(t, 15, ds.Observations[2].ObservedCount)
}

func TestReadColumnOrderIrrelevant(t *testing.T) {
	in := "observed_count,unit_id,infrastructure\n7,a,0.5\n"
	ds, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	assert.Equal(t, "a", ds.Observations[0].UnitID)
	assert.Equal(t, 7, ds.Observations[0].ObservedCount)
	assert.Equal(t, 0.0, ds.Observations[0].X)
}

func TestReadParseFailures(t *testing.T) {
	tests := []struct {
		name string
		in   string
		code apperrors.ErrorCode
	}{
		{
			name: "missing required column",
			in:   "unit_id,infrastructure\na,0.5\n",
			code: apperrors.ErrCodeDatasetParse,
		},
		{
			name: "fractional count",
			in:   "unit_id,infrastructure,observed_count\na,0.5,3.5\n",
			code: apperrors.ErrCodeDatasetParse,
		},
		{
			name: "negative count",
			in:   "unit_id,infrastructure,observed_count\na,0.5,-2\n",
			code: apperrors.ErrCodeDatasetParse,
		},
		{
			name: "non-numeric infrastructure",
			in:   "unit_id,infrastructure,observed_count\na,lots,3\n",
			code: apperrors.ErrCodeDatasetParse,
		},
		{
			name: "NaN infrastructure",
			in:   "unit_id,infrastructure,observed_count\na,NaN,3\n",
			code: apperrors.ErrCodeDatasetParse,
		},
		{
			name: "empty unit ID",
			in:   "unit_id,infrastructure,observed_count\n,0.5,3\n",
			code: apperrors.ErrCodeDatasetParse,
		},
		{
			name: "bad coordinate",
			in:   "unit_id,infrastructure,observed_count,x_coord\na,0.5,3,east\n",
			code: apperrors.ErrCodeDatasetParse,
		},
		{
			name: "duplicate unit",
			in:   "unit_id,infrastructure,observed_count\na,0.5,3\na,0.6,4\n",
			code: apperrors.ErrCodeDatasetDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestReadErrorNamesRow(t *testing.T) {
	in := "unit_id,infrastructure,observed_count\na,0.5,3\nb,0.6,oops\n"
	_, err := Read(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row=3")
}

func TestWriteReadRoundTrip(t *testing.T) {
	ds := &demand.Dataset{Observations: []demand.Observation{
		{UnitID: "a", Infrastructure: 0.25, ObservedCount: 4, X: 1, Y: 2},
		{UnitID: "b", Infrastructure: 0.5, ObservedCount: 0, X: 3.5, Y: 4.25},
	}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, ds))

	back, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, ds, back)
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obs.csv")

	ds := &demand.Dataset{Observations: []demand.Observation{
		{UnitID: "a", Infrastructure: 0.1, ObservedCount: 2},
	}}
	require.NoError(t, WriteFile(path, ds))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ds, back)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatasetParse))
}

func TestWriteResiduals(t *testing.T) {
	records := []demand.ResidualRecord{
		{
			UnitID: "a", ObservedCount: 10, ExpectedCount: 7.389056,
			Residual: 2.610944, StandardizedResidual: 0.960501,
			Classification: demand.ServiceBalanced, X: 1, Y: 2,
		},
		{
			UnitID: "b", ObservedCount: 0, ExpectedCount: 12.0,
			Residual: -12.0, StandardizedResidual: -3.464102,
			Classification: demand.ServiceUnderserved,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResiduals(&buf, records))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"unit_id,observed_count,expected_count,residual,standardized_residual,classification,x_coord,y_coord",
		lines[0])
	assert.Contains(t, lines[1], "balanced")
	assert.Contains(t, lines[2], "underserved")
}
