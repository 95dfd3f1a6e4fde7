package species

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

// ImportInput points at an XLSX workbook of species rates. Sheet defaults to
// the first sheet of the workbook.
type ImportInput struct {
	Reader io.Reader
	Sheet  string
	// UpdateExisting refreshes the rate of known, unreferenced species.
	UpdateExisting bool
}

// RowError describes a rejected spreadsheet row (1-based, header is row 1).
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult summarizes a species import.
type ImportResult struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors,omitempty"`
}

type sheetColumns struct {
	name, scientific, rate int
}

// ImportSheet reads species from a workbook whose header row names the
// columns name, scientific_name (optional) and base_absorption_rate. Rows are
// applied in one transaction; invalid rows are reported and skipped.
func (s *service) ImportSheet(ctx context.Context, input ImportInput) (*ImportResult, error) {
	if input.Reader == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workbook is required")
	}
	book, err := excelize.OpenReader(input.Reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "open workbook")
	}
	defer func() { _ = book.Close() }()

	sheet := strings.TrimSpace(input.Sheet)
	if sheet == "" {
		sheet = book.GetSheetName(0)
	}
	rows, err := book.GetRows(sheet)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("read sheet %q", sheet))
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sheet is empty")
	}
	cols, err := resolveColumns(rows[0])
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for i, row := range rows[1:] {
			rowNum := i + 2
			if isBlank(row) {
				continue
			}
			if rowErr := s.importRow(ctx, repo, row, cols, input.UpdateExisting, result); rowErr != nil {
				if pkgerrors.CodeOf(rowErr) == pkgerrors.CodeInternal {
					return rowErr
				}
				result.Errors = append(result.Errors, RowError{Row: rowNum, Message: rowErr.Error()})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) importRow(ctx context.Context, repo Repository, row []string, cols sheetColumns, updateExisting bool, result *ImportResult) error {
	rawRate := cell(row, cols.rate)
	rate, err := decimal.NewFromString(rawRate)
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid base_absorption_rate %q", rawRate))
	}
	input := CreateInput{
		Name:               cell(row, cols.name),
		ScientificName:     cell(row, cols.scientific),
		BaseAbsorptionRate: rate,
	}
	if err := validate.Struct(input); err != nil {
		return err
	}

	existing, err := repo.FindByName(ctx, input.Name)
	switch {
	case err == nil:
		if !updateExisting || existing.BaseAbsorptionRate.Equal(rate) {
			result.Skipped++
			return nil
		}
		if err := ensureUnreferenced(ctx, repo, existing.ID); err != nil {
			return err
		}
		if err := repo.Update(ctx, existing.ID, map[string]any{"base_absorption_rate": rate}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update species rate")
		}
		result.Updated++
		return nil
	case !isNotFound(err):
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup species")
	}

	if _, err := repo.Create(ctx, &models.TreeSpecies{
		Name:               input.Name,
		ScientificName:     input.ScientificName,
		BaseAbsorptionRate: rate,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create species")
	}
	result.Created++
	return nil
}

func resolveColumns(header []string) (sheetColumns, error) {
	cols := sheetColumns{name: -1, scientific: -1, rate: -1}
	for i, h := range header {
		switch normalizeHeader(h) {
		case "name", "species", "commonname":
			cols.name = i
		case "scientificname", "latinname":
			cols.scientific = i
		case "baseabsorptionrate", "absorptionrate", "rate", "kgco2peryear":
			cols.rate = i
		}
	}
	if cols.name < 0 || cols.rate < 0 {
		return cols, pkgerrors.New(pkgerrors.CodeValidation, "sheet must have name and base_absorption_rate columns").
			WithDetails(map[string]any{"header": header})
	}
	return cols, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(strings.TrimSpace(h), "\uFEFF")
	h = strings.ToLower(h)
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
