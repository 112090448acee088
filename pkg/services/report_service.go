package services

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"sales-insights-api/pkg/models"
)

// ReportService renders a computed dashboard as an XLSX workbook for export.
type ReportService struct{}

// NewReportService creates a ReportService.
func NewReportService() *ReportService {
	return &ReportService{}
}

// WriteDashboardXLSX writes the workbook to w. Sheets: Summary, Top
// Proposals, Anomalies, Forecast.
func (r *ReportService) WriteDashboardXLSX(dash *models.Dashboard, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := r.writeSummary(f, dash); err != nil {
		return err
	}
	if err := r.writeTopProposals(f, dash); err != nil {
		return err
	}
	if err := r.writeAnomalies(f, dash); err != nil {
		return err
	}
	if err := r.writeForecast(f, dash); err != nil {
		return err
	}

	// The default sheet is replaced by Summary.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex("Summary")
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	_, err = f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, row int, values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func (r *ReportService) writeSummary(f *excelize.File, dash *models.Dashboard) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][]interface{}{
		{"Generated at", dash.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Proposals analyzed", dash.Stats.TotalProposalsAnalyzed},
		{"Average score", dash.Stats.AvgScore},
		{"High-score proposals", dash.Stats.HighScoreCount},
		{"At-risk proposals", dash.Stats.RiskCount},
		{"Failed computations", dash.Stats.FailedCount},
		{},
		{"Level", "Count", "Total value"},
	}
	for i, row := range rows {
		if err := setRow(f, sheet, i+1, row...); err != nil {
			return err
		}
	}

	levels := []string{models.LevelHigh, models.LevelMedium, models.LevelLow, models.LevelVeryLow}
	for i, level := range levels {
		bucket := dash.ScoreDistribution[level]
		if err := setRow(f, sheet, len(rows)+1+i, level, bucket.Count, bucket.TotalValue); err != nil {
			return err
		}
	}

	start := len(rows) + len(levels) + 2
	if err := setRow(f, sheet, start, "Level", "Conversion rate", "Closed", "Total"); err != nil {
		return err
	}
	for i, c := range dash.ConversionRates {
		if err := setRow(f, sheet, start+1+i, c.Level, c.Rate, c.Closed, c.Total); err != nil {
			return err
		}
	}
	return nil
}

func (r *ReportService) writeTopProposals(f *excelize.File, dash *models.Dashboard) error {
	const sheet = "Top Proposals"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, "Number", "Client", "Value", "Score", "Level", "Action"); err != nil {
		return err
	}
	for i, p := range dash.TopProposals {
		if err := setRow(f, sheet, i+2, p.Number, p.Client, p.Value, p.Score, p.Level, p.Action); err != nil {
			return err
		}
	}
	return nil
}

func (r *ReportService) writeAnomalies(f *excelize.File, dash *models.Dashboard) error {
	const sheet = "Anomalies"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, "Priority", "Type", "Title", "Message", "Detected at"); err != nil {
		return err
	}
	for i, a := range dash.Anomalies.Anomalies {
		err := setRow(f, sheet, i+2, a.Priority, a.Type, a.Title, a.Message,
			a.DetectedAt.Format("2006-01-02 15:04:05"))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *ReportService) writeForecast(f *excelize.File, dash *models.Dashboard) error {
	const sheet = "Forecast"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if dash.Forecast == nil {
		return setRow(f, sheet, 1, "Forecast unavailable")
	}

	fc := dash.Forecast
	rows := [][]interface{}{
		{"Horizon", "Revenue", "Sales", "Lower bound", "Upper bound"},
		{"7 days", fc.Next7Days.Revenue, fc.Next7Days.Sales, fc.Next7Days.LowerBound, fc.Next7Days.UpperBound},
		{"30 days", fc.Next30Days.Revenue, fc.Next30Days.Sales, fc.Next30Days.LowerBound, fc.Next30Days.UpperBound},
		{"90 days", fc.Next90Days.Revenue, fc.Next90Days.Sales, fc.Next90Days.LowerBound, fc.Next90Days.UpperBound},
		{},
		{"Confidence", fc.Confidence},
		{"Trend", fc.Trends.Direction, fc.Trends.Strength, fmt.Sprintf("%.1f%%", fc.Trends.PeriodComparison)},
	}
	if fc.GoalComparison.HasGoals {
		rows = append(rows,
			[]interface{}{"Goal", fc.GoalComparison.Goal},
			[]interface{}{"Goal status", fc.GoalComparison.Status, fc.GoalComparison.AchievementProbability},
		)
	}
	for i, row := range rows {
		if err := setRow(f, sheet, i+1, row...); err != nil {
			return err
		}
	}
	return nil
}
