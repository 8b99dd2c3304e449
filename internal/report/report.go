// Package report writes eligibility evaluation artifacts: a JSON document
// for downstream consumers and an Excel workbook for clinical staff.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/trialscope/trialscope/internal/models"
)

const registryStudyURL = "https://clinicaltrials.gov/study/"

// WriteJSON writes the eligibility result as indented JSON and returns the
// file path.
func WriteJSON(result *models.EligibilityResult, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, fmt.Sprintf("eligibility_%s.json", safeID(result.PatientID)))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal eligibility result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write eligibility result: %w", err)
	}
	return path, nil
}

// WriteExcel writes the eligibility workbook and returns the file path.
// Sheets: Summary, Eligible Trials, Ineligible Trials, Eligibility Details.
func WriteExcel(result *models.EligibilityResult, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, fmt.Sprintf("eligibility_%s.xlsx", safeID(result.PatientID)))

	f := excelize.NewFile()
	defer f.Close()

	if err := writeSummarySheet(f, result); err != nil {
		return "", err
	}
	if err := writeEligibleSheet(f, result.EligibleTrials); err != nil {
		return "", err
	}
	if err := writeIneligibleSheet(f, result.IneligibleTrials); err != nil {
		return "", err
	}
	if err := writeDetailsSheet(f, result.EligibleTrials); err != nil {
		return "", err
	}
	// Drop the default sheet left over from NewFile.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("delete default sheet: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

func writeSummarySheet(f *excelize.File, result *models.EligibilityResult) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create %s sheet: %w", sheet, err)
	}
	total := len(result.EligibleTrials) + len(result.IneligibleTrials) + len(result.IndeterminateTrials)
	rows := [][]interface{}{
		{"Patient ID", "Evaluation Date", "Total Trials Evaluated", "Eligible Trials", "Ineligible Trials", "Indeterminate Trials"},
		{result.PatientID, result.EvaluationDate, total,
			len(result.EligibleTrials), len(result.IneligibleTrials), len(result.IndeterminateTrials)},
	}
	return writeRows(f, sheet, rows)
}

func writeEligibleSheet(f *excelize.File, trials []*models.TrialEligibility) error {
	const sheet = "Eligible Trials"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create %s sheet: %w", sheet, err)
	}
	rows := [][]interface{}{
		{"Trial ID", "Trial Title", "Semantic Score", "Number of Criteria", "All Criteria Met", "Link"},
	}
	for _, t := range trials {
		rows = append(rows, []interface{}{
			t.TrialID, t.TrialTitle, t.SemanticScore, len(t.Verdicts), "Yes", registryStudyURL + t.TrialID,
		})
	}
	return writeRows(f, sheet, rows)
}

func writeIneligibleSheet(f *excelize.File, trials []*models.TrialEligibility) error {
	const sheet = "Ineligible Trials"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create %s sheet: %w", sheet, err)
	}
	rows := [][]interface{}{
		{"Trial ID", "Trial Title", "Semantic Score", "Unmet Criteria", "Primary Reason", "Link"},
	}
	for _, t := range trials {
		rows = append(rows, []interface{}{
			t.TrialID, t.TrialTitle, t.SemanticScore, unmetCount(t), primaryReason(t), registryStudyURL + t.TrialID,
		})
	}
	return writeRows(f, sheet, rows)
}

func writeDetailsSheet(f *excelize.File, trials []*models.TrialEligibility) error {
	const sheet = "Eligibility Details"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create %s sheet: %w", sheet, err)
	}
	rows := [][]interface{}{
		{"Trial ID", "Trial Title", "Criterion", "Is Met", "Confidence", "Rationale", "Medications"},
	}
	for _, t := range trials {
		for _, v := range t.Verdicts {
			rows = append(rows, []interface{}{
				t.TrialID, t.TrialTitle, v.Criterion, yesNo(v.IsMet),
				capitalize(v.Confidence), v.Rationale,
				strings.Join(v.MedicationsAndSupplements, ", "),
			})
		}
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func unmetCount(t *models.TrialEligibility) int {
	n := 0
	for _, v := range t.Verdicts {
		if !v.IsMet {
			n++
		}
	}
	return n
}

// primaryReason is the first unmet criterion with its rationale, truncated
// for the cell.
func primaryReason(t *models.TrialEligibility) string {
	for _, v := range t.Verdicts {
		if !v.IsMet {
			reason := v.Criterion + ": " + v.Rationale
			if len(reason) > 100 {
				return reason[:100] + "..."
			}
			return reason
		}
	}
	return "Unknown"
}

func safeID(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
