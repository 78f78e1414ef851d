package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	appdemand "github.com/urbanpulse/demandmap/internal/application/demand"
	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/dataset"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// fitReport is the printable summary of an offline fit.
type fitReport struct {
	RunID            string  `json:"run_id"`
	Converged        bool    `json:"converged"`
	Iterations       int     `json:"iterations"`
	GradientNorm     float64 `json:"gradient_norm"`
	Intercept        float64 `json:"intercept"`
	InterceptSE      float64 `json:"intercept_se"`
	InfraCoefficient float64 `json:"infra_coefficient"`
	InfraCoefSE      float64 `json:"infra_coefficient_se"`
	EffectScale      float64 `json:"effect_scale"`
	Units            int     `json:"units"`
	Underserved      int     `json:"underserved"`
	Balanced         int     `json:"balanced"`
	Overserved       int     `json:"overserved"`
}

func newFitReport(result *appdemand.AnalysisResult) fitReport {
	fit := result.Fit
	return fitReport{
		RunID:            fit.RunID,
		Converged:        fit.Converged,
		Iterations:       fit.Iterations,
		GradientNorm:     fit.GradientNorm,
		Intercept:        fit.Intercept,
		InterceptSE:      fit.InterceptSE,
		InfraCoefficient: fit.InfraCoefficient,
		InfraCoefSE:      fit.InfraCoefficientSE,
		EffectScale:      fit.EffectScale,
		Units:            len(result.Residuals),
		Underserved:      result.Summary.Underserved,
		Balanced:         result.Summary.Balanced,
		Overserved:       result.Summary.Overserved,
	}
}

func (r fitReport) String() string {
	return fmt.Sprintf(
		"run %s: converged=%t iterations=%d\n  intercept=%.4f (se %.4f)\n  infra_coefficient=%.4f (se %.4f)\n  effect_scale=%.4f\n  units=%d underserved=%d balanced=%d overserved=%d",
		r.RunID, r.Converged, r.Iterations,
		r.Intercept, r.InterceptSE,
		r.InfraCoefficient, r.InfraCoefSE,
		r.EffectScale,
		r.Units, r.Underserved, r.Balanced, r.Overserved)
}

func (r fitReport) TableHeaders() []string {
	return []string{"parameter", "estimate", "std_err"}
}

func (r fitReport) TableRows() [][]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
	return [][]string{
		{"intercept", f(r.Intercept), f(r.InterceptSE)},
		{"infra_coefficient", f(r.InfraCoefficient), f(r.InfraCoefSE)},
		{"effect_scale", f(r.EffectScale), ""},
	}
}

// offlineService builds an analysis service without storage or messaging,
// for file-to-file CLI runs.
func offlineService(opts *RootOptions, fitCfg config.FitConfig, resCfg config.ResidualsConfig) (appdemand.Service, error) {
	log, err := newCLILogger(opts)
	if err != nil {
		return nil, err
	}
	return appdemand.NewService(fitCfg, resCfg, nil, nil, log), nil
}

// NewFitCmd creates the fit subcommand: read observations from CSV, fit the
// model, and print the parameter summary.
func NewFitCmd(opts *RootOptions) *cobra.Command {
	var (
		inputPath    string
		residualsOut string
		fitCfg       config.FitConfig
		threshold    float64
	)

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the demand model against a CSV dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.ReadFile(inputPath)
			if err != nil {
				return err
			}

			svc, err := offlineService(opts, fitCfg, config.ResidualsConfig{Threshold: threshold})
			if err != nil {
				return err
			}
			result, err := svc.AnalyzeDataset(cmd.Context(), ds)
			if err != nil {
				return err
			}

			if residualsOut != "" {
				if err := dataset.WriteResidualsFile(residualsOut, result.Residuals); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote residuals to %s\n", residualsOut)
			}
			return printResult(cmd, opts.OutputFormat, newFitReport(result))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&inputPath, "input", "i", "", "input CSV path (required)")
	f.StringVar(&residualsOut, "residuals-out", "", "also write residual diagnostics to this CSV path")
	f.IntVar(&fitCfg.MaxIter, "max-iter", config.DefaultFitMaxIter, "Newton iteration budget")
	f.Float64Var(&fitCfg.Tolerance, "tolerance", config.DefaultFitTolerance, "gradient convergence tolerance")
	f.Float64Var(&fitCfg.PriorScale, "prior-scale", config.DefaultFitPriorScale, "prior std dev on intercept and coefficient")
	f.Float64Var(&threshold, "threshold", config.DefaultResidualThreshold, "standardized-residual classification threshold")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// classificationLabel formats a summary line used by fit and residuals.
func classificationLabel(records []demand.ResidualRecord) string {
	var under, over int
	for _, rec := range records {
		switch rec.Classification {
		case demand.ServiceUnderserved:
			under++
		case demand.ServiceOverserved:
			over++
		}
	}
	return fmt.Sprintf("%d units: %d underserved, %d overserved", len(records), under, over)
}
