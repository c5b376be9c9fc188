package fieldmap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	isoDateLayoutConstant            = "2006-01-02"
	unparseableDateErrorTemplate     = "unrecognized date %q"
	minimumSpreadsheetSerialConstant = 1
	maximumSpreadsheetSerialConstant = 2958465
)

var acceptedDateLayouts = []string{
	isoDateLayoutConstant,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"1-2-06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// NormalizeDate renders raw as YYYY-MM-DD. It accepts common textual layouts and
// spreadsheet serial day numbers. Blank input yields an empty string.
func NormalizeDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}

	for _, layout := range acceptedDateLayouts {
		if parsed, parseError := time.Parse(layout, trimmed); parseError == nil {
			return parsed.Format(isoDateLayoutConstant), nil
		}
	}

	if serial, parseError := strconv.ParseFloat(trimmed, 64); parseError == nil {
		if serial >= minimumSpreadsheetSerialConstant && serial <= maximumSpreadsheetSerialConstant {
			converted, conversionError := excelize.ExcelDateToTime(serial, false)
			if conversionError == nil {
				return converted.Format(isoDateLayoutConstant), nil
			}
		}
	}

	return "", fmt.Errorf(unparseableDateErrorTemplate, raw)
}
