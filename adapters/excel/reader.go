package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
	"selinf/internal"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
	logger   *internal.Logger
}

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader(config ExcelConfig, logger *internal.Logger) *DataReader {
	ext := strings.ToLower(filepath.Ext(config.FilePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	sheet := config.Sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &DataReader{filePath: config.FilePath, fileType: fileType, sheet: sheet, logger: logger.With("excel")}
}

// ReadData reads data from Excel or CSV files into structured format
func (r *DataReader) ReadData() (*ExcelData, error) {
	r.logger.Debug("reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	case "xlsx":
		return r.readExcelData()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

// readExcelData reads the configured sheet into structured format
func (r *DataReader) readExcelData() (*ExcelData, error) {
	start := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.sheet, err)
	}
	r.logger.Debug("%s read in %.2fms (%d rows)", r.sheet, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("Excel file must have at least a header row and one data row")
	}
	return r.processRows(rows)
}

// readCSVData reads CSV data into structured format
func (r *DataReader) readCSVData() (*ExcelData, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	start := time.Now()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	r.logger.Debug("CSV file read in %.2fms (%d rows)", float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have at least a header row and one data row")
	}
	return r.processRows(rows)
}

// processRows converts raw string rows into ExcelData format
func (r *DataReader) processRows(rows [][]string) (*ExcelData, error) {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	seen := make(map[string]bool, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
		if headers[i] == "" {
			return nil, fmt.Errorf("%w: empty header in column %d", core.ErrInvalidInput, i+1)
		}
		if seen[headers[i]] {
			return nil, fmt.Errorf("%w: duplicate header %q", core.ErrInvalidInput, headers[i])
		}
		seen[headers[i]] = true
	}

	dataRows := make([]RawRowData, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlank(row) {
			continue
		}
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}

	r.logger.Debug("%s file processed (%d columns, %d rows)", strings.ToUpper(r.fileType), len(headers), len(dataRows))
	return &ExcelData{Headers: headers, Rows: dataRows}, nil
}

// ReadDataset reads the file and splits it into predictors and response.
// Every column other than the response is a predictor and must be numeric.
func (r *DataReader) ReadDataset(response string) (*Dataset, error) {
	data, err := r.ReadData()
	if err != nil {
		return nil, err
	}
	return data.Dataset(response)
}

// Dataset converts the raw rows into a numeric regression problem
func (d *ExcelData) Dataset(response string) (*Dataset, error) {
	found := false
	columns := make([]string, 0, len(d.Headers))
	for _, h := range d.Headers {
		if h == response {
			found = true
			continue
		}
		columns = append(columns, h)
	}
	if !found {
		return nil, fmt.Errorf("%w: response column %q not found", core.ErrInvalidInput, response)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no predictor columns", core.ErrInvalidInput)
	}
	if len(d.Rows) == 0 {
		return nil, core.ErrEmptySample
	}

	x := mat.NewDense(len(d.Rows), len(columns), nil)
	y := make([]float64, len(d.Rows))
	for i, row := range d.Rows {
		v, err := parseCell(row, response, i)
		if err != nil {
			return nil, err
		}
		y[i] = v
		for j, c := range columns {
			v, err := parseCell(row, c, i)
			if err != nil {
				return nil, err
			}
			x.Set(i, j, v)
		}
	}
	return &Dataset{X: x, Y: y, Columns: columns, Response: response}, nil
}

func parseCell(row RawRowData, column string, index int) (float64, error) {
	raw, ok := row[column]
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: row %d has no value for %q", core.ErrInvalidInput, index+2, column)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: row %d column %q: %v", core.ErrInvalidInput, index+2, column, err)
	}
	return v, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
