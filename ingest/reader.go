package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one canonicalized portfolio line. Values are raw cell strings; the
// reconciler decides what each one means.
type Row struct {
	AgreementNo   string
	CustomerName  string
	Employer      string
	MaskedCompany string
	ContactNo     string
	Address       string
	Outstanding   string
	AssignedTo    string
	TracerCode    string
}

// ErrMissingColumn reports a required canonical column absent from the header
// row after normalization.
var ErrMissingColumn = errors.New("ingest: required column missing")

// ErrEmptyFile reports a file without a header row.
var ErrEmptyFile = errors.New("ingest: file has no header row")

// ReadCSV parses a comma-separated portfolio into canonicalized rows. The
// first record is treated as the header row.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}

	headers := NormalizeHeaders(header)
	if err := requireColumns(headers); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, 64)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read record: %w", err)
		}
		rows = append(rows, buildRow(headers, record))
	}
	return rows, nil
}

// ReadXLSX parses the first worksheet of an Excel portfolio into
// canonicalized rows.
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("ingest: read sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	headers := NormalizeHeaders(records[0])
	if err := requireColumns(headers); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, buildRow(headers, record))
	}
	return rows, nil
}

func requireColumns(headers []string) error {
	for _, h := range headers {
		if h == ColAgreementNo {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMissingColumn, ColAgreementNo)
}

// buildRow copies cells into the canonical slots. Short records leave the
// remaining slots empty; unrecognized columns are ignored here because only
// canonical fields feed reconciliation.
func buildRow(headers []string, record []string) Row {
	var row Row
	for i, h := range headers {
		if i >= len(record) {
			break
		}
		value := strings.TrimSpace(record[i])
		switch h {
		case ColAgreementNo:
			row.AgreementNo = value
		case ColCustomerName:
			row.CustomerName = value
		case ColEmployer:
			row.Employer = value
		case ColMaskedCompany:
			row.MaskedCompany = value
		case ColContactNo:
			row.ContactNo = value
		case ColAddress:
			row.Address = value
		case ColOutstanding:
			row.Outstanding = value
		case ColAssignedTo:
			row.AssignedTo = value
		case ColTRCCode:
			row.TracerCode = value
		}
	}
	return row
}
