package excel

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/errors"
	"selinf/ports"
)

const (
	summarySheet = "summary"
	pvalueSheet  = "pvalues"
)

// ResultWriter implements ResultSinkPort by writing one workbook per run
type ResultWriter struct {
	path   string
	logger *internal.Logger
}

var _ ports.ResultSinkPort = (*ResultWriter)(nil)

// NewResultWriter creates a writer targeting path
func NewResultWriter(path string, logger *internal.Logger) *ResultWriter {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &ResultWriter{path: path, logger: logger.With("excel")}
}

// WriteSummary writes the aggregate on the summary sheet and every target
// result on the pvalues sheet
func (w *ResultWriter) WriteSummary(ctx context.Context, summary *selection.ReplicateSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if summary == nil {
		return errors.ExportError(w.path, fmt.Errorf("nil summary"))
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return errors.ExportError(w.path, err)
	}
	if _, err := f.NewSheet(pvalueSheet); err != nil {
		return errors.ExportError(w.path, err)
	}
	if err := writeSummarySheet(f, summary); err != nil {
		return errors.ExportError(w.path, err)
	}
	rows, err := writePValueSheet(f, summary)
	if err != nil {
		return errors.ExportError(w.path, err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return errors.ExportError(w.path, err)
	}

	w.logger.Info("wrote %d target results to %s", rows, w.path)
	return nil
}

func writeSummarySheet(f *excelize.File, s *selection.ReplicateSummary) error {
	entries := [][]interface{}{
		{"run_id", s.RunID.String()},
		{"fingerprint", s.Fingerprint.String()},
		{"started_at", s.StartedAt.String()},
		{"replicates", s.Replicates},
		{"skipped", s.Skipped},
		{"null_count", len(s.Null)},
		{"alternative_count", len(s.Alternative)},
		{"null_mean", s.NullMean},
		{"null_std_dev", s.NullStdDev},
	}
	if s.Uniformity != nil {
		entries = append(entries,
			[]interface{}{"ks_statistic", s.Uniformity.Statistic},
			[]interface{}{"ks_p_value", s.Uniformity.PValue},
		)
	}
	for i, entry := range entries {
		if err := setRow(f, summarySheet, i+1, entry); err != nil {
			return err
		}
	}
	return nil
}

func writePValueSheet(f *excelize.File, s *selection.ReplicateSummary) (int, error) {
	header := []interface{}{"replicate", "seed", "target", "null", "status", "reason", "tail", "p_value", "observed", "retained", "mean", "std_dev"}
	if err := setRow(f, pvalueSheet, 1, header); err != nil {
		return 0, err
	}
	row := 2
	for _, outcome := range s.Outcomes {
		for _, labeled := range outcome.Results {
			r := labeled.Result
			if r == nil {
				continue
			}
			values := []interface{}{
				outcome.Index,
				fmt.Sprintf("%d", outcome.Seed),
				r.Target.String(),
				labeled.Null,
				string(r.Status),
				string(r.Reason),
				string(r.Tail),
			}
			// excel has no NaN; skipped targets leave the numeric cells empty
			if r.Usable() {
				values = append(values, r.PValue, r.Observed, r.Retained, r.Sample.Mean, r.Sample.StdDev)
			}
			if err := setRow(f, pvalueSheet, row, values); err != nil {
				return 0, err
			}
			row++
		}
	}
	return row - 2, nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
