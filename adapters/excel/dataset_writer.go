package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"selinf/domain/core"
)

// WriteDataset writes the predictors followed by the response column, as CSV
// or as Sheet1 of a workbook depending on the extension of path. The file
// reads back through DataReader.ReadDataset.
func WriteDataset(path string, ds *Dataset) error {
	if ds == nil || ds.X == nil {
		return fmt.Errorf("%w: nil dataset", core.ErrInvalidInput)
	}
	n, p := ds.X.Dims()
	if len(ds.Columns) != p {
		return core.NewDimensionError("column names", len(ds.Columns), p)
	}
	if len(ds.Y) != n {
		return core.NewDimensionError("response", len(ds.Y), n)
	}

	headers := append(append([]string(nil), ds.Columns...), ds.Response)
	if strings.ToLower(filepath.Ext(path)) == ".csv" {
		return writeDatasetCSV(path, headers, ds)
	}
	return writeDatasetXLSX(path, headers, ds)
}

func writeDatasetCSV(path string, headers []string, ds *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return err
	}
	n, p := ds.X.Dims()
	record := make([]string, p+1)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			record[j] = strconv.FormatFloat(ds.X.At(i, j), 'g', -1, 64)
		}
		record[p] = strconv.FormatFloat(ds.Y[i], 'g', -1, 64)
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeDatasetXLSX(path string, headers []string, ds *Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	row := make([]interface{}, len(headers))
	for j, h := range headers {
		row[j] = h
	}
	if err := setRow(f, sheet, 1, row); err != nil {
		return err
	}
	n, p := ds.X.Dims()
	for i := 0; i < n; i++ {
		values := make([]interface{}, p+1)
		for j := 0; j < p; j++ {
			values[j] = ds.X.At(i, j)
		}
		values[p] = ds.Y[i]
		if err := setRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
