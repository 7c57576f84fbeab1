// Package ingestion turns tabular job posting exports into chunked documents.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat names a delimited export layout.
type DocumentFormat string

const (
	FormatUnknown DocumentFormat = ""
	FormatCSV     DocumentFormat = "csv"
	FormatTSV     DocumentFormat = "tsv"
)

var formatsByExt = map[string]DocumentFormat{
	".csv": FormatCSV,
	".tsv": FormatTSV,
	".tab": FormatTSV,
}

// DetectFormat maps a file extension, case-insensitively, to its format.
func DetectFormat(path string) DocumentFormat {
	return formatsByExt[strings.ToLower(filepath.Ext(path))]
}

func (f DocumentFormat) delimiter() rune {
	switch f {
	case FormatTSV:
		return '\t'
	default:
		return ','
	}
}
