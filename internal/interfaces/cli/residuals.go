package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/dataset"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// residualReport is the printable summary of a residual run. The table view
// lists only flagged units; the full per-unit detail goes to the CSV file.
type residualReport struct {
	Records []demand.ResidualRecord `json:"residuals"`
}

func (r residualReport) String() string {
	return classificationLabel(r.Records)
}

func (r residualReport) TableHeaders() []string {
	return []string{"unit_id", "observed", "expected", "std_residual", "classification"}
}

func (r residualReport) TableRows() [][]string {
	var rows [][]string
	for _, rec := range r.Records {
		if rec.Classification == demand.ServiceBalanced {
			continue
		}
		rows = append(rows, []string{
			rec.UnitID,
			strconv.Itoa(rec.ObservedCount),
			strconv.FormatFloat(rec.ExpectedCount, 'f', 2, 64),
			strconv.FormatFloat(rec.StandardizedResidual, 'f', 2, 64),
			string(rec.Classification),
		})
	}
	return rows
}

// NewResidualsCmd creates the residuals subcommand: fit the model against a
// CSV dataset and write per-unit residual diagnostics.
func NewResidualsCmd(opts *RootOptions) *cobra.Command {
	var (
		inputPath   string
		outPath     string
		threshold   float64
		minExpected float64
	)

	cmd := &cobra.Command{
		Use:   "residuals",
		Short: "Compute residual diagnostics and flag under-/over-served units",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.ReadFile(inputPath)
			if err != nil {
				return err
			}

			svc, err := offlineService(opts, config.FitConfig{},
				config.ResidualsConfig{Threshold: threshold, MinExpected: minExpected})
			if err != nil {
				return err
			}
			result, err := svc.AnalyzeDataset(cmd.Context(), ds)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := dataset.WriteResidualsFile(outPath, result.Residuals); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote residuals to %s\n", outPath)
			}
			return printResult(cmd, opts.OutputFormat, residualReport{Records: result.Residuals})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&inputPath, "input", "i", "", "input CSV path (required)")
	f.StringVar(&outPath, "out", "", "output CSV path for per-unit diagnostics")
	f.Float64Var(&threshold, "threshold", config.DefaultResidualThreshold, "standardized-residual classification threshold")
	f.Float64Var(&minExpected, "min-expected", config.DefaultResidualMinExpected, "smallest accepted model-implied expectation")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
