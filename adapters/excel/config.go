package excel

// ExcelConfig holds configuration for a regression data source
type ExcelConfig struct {
	FilePath string `json:"file_path"`
	Sheet    string `json:"sheet"`    // xlsx only; empty reads Sheet1
	Response string `json:"response"` // header of the response column
	Enabled  bool   `json:"enabled"`
}

// DefaultExcelConfig returns sensible defaults for Excel processing
func DefaultExcelConfig() ExcelConfig {
	return ExcelConfig{
		Sheet:    "Sheet1",
		Response: "y",
		Enabled:  false,
	}
}
