package excel

import "gonum.org/v1/gonum/mat"

// RawRowData represents a row of raw Excel data as string key-value pairs
type RawRowData map[string]string

// ExcelData represents the complete Excel dataset
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// Dataset is a numeric regression problem read from a sheet
type Dataset struct {
	X        *mat.Dense
	Y        []float64
	Columns  []string // predictor headers, aligned with the columns of X
	Response string
}
