// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"math"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// MissingTokens are the cell texts read as missing values by ReadCSV.
var MissingTokens = []string{"?", "", "NA", "NaN", "nan"}

// DateLayout is the layout used to write date attributes as text, and the first layout tried when
// parsing them.
const DateLayout = "2006-01-02 15:04:05"

var dateLayouts = []string{DateLayout, time.RFC3339, "2006-01-02"}

type csvConfig struct {
	relation       string
	nominalColumns []string
	dateColumns    []string
}

// CSVOption configures ReadCSV and FromDataFrame.
type CSVOption func(*csvConfig)

// WithRelation sets the relation name of the resulting schema.
func WithRelation(name string) CSVOption {
	return func(c *csvConfig) { c.relation = name }
}

// NominalColumns forces the given columns to be nominal, even if their values look numeric.
func NominalColumns(names ...string) CSVOption {
	return func(c *csvConfig) { c.nominalColumns = append(c.nominalColumns, names...) }
}

// DateColumns parses the given columns as dates (see DateLayout).
func DateColumns(names ...string) CSVOption {
	return func(c *csvConfig) { c.dateColumns = append(c.dateColumns, names...) }
}

// ReadCSV reads a CSV table with a header row. classColumn names the class attribute; if empty the
// dataset has no class.
//
// Numeric-looking columns become Numeric attributes, everything else becomes Nominal with the
// distinct values sorted alphabetically. Cells in MissingTokens are missing.
func ReadCSV(r io.Reader, classColumn string, options ...CSVOption) (*Dataset, error) {
	cfg := &csvConfig{relation: "csv"}
	for _, opt := range options {
		opt(cfg)
	}
	types := make(map[string]series.Type)
	for _, name := range cfg.nominalColumns {
		types[name] = series.String
	}
	for _, name := range cfg.dateColumns {
		types[name] = series.String
	}
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.NaNValues(MissingTokens),
		dataframe.WithTypes(types))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to read CSV")
	}
	return fromDataFrame(df, classColumn, cfg)
}

// FromDataFrame converts a gota DataFrame to a Dataset. See ReadCSV for the conversion rules.
func FromDataFrame(df dataframe.DataFrame, classColumn string, options ...CSVOption) (*Dataset, error) {
	cfg := &csvConfig{relation: "dataframe"}
	for _, opt := range options {
		opt(cfg)
	}
	return fromDataFrame(df, classColumn, cfg)
}

func fromDataFrame(df dataframe.DataFrame, classColumn string, cfg *csvConfig) (*Dataset, error) {
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "invalid DataFrame")
	}
	names := df.Names()
	classIndex := -1
	if classColumn != "" {
		classIndex = slices.Index(names, classColumn)
		if classIndex < 0 {
			return nil, errors.Errorf("class column %q not found in %v", classColumn, names)
		}
	}

	numRows := df.Nrow()
	columns := make([][]float64, len(names))
	attributes := make([]Attribute, len(names))
	for colIdx, name := range names {
		col := df.Col(name)
		attr := Attribute{Name: name}
		switch {
		case slices.Contains(cfg.dateColumns, name):
			attr.Type = Date
			values, err := parseDates(col)
			if err != nil {
				return nil, errors.WithMessagef(err, "column %q", name)
			}
			columns[colIdx] = values
		case slices.Contains(cfg.nominalColumns, name) || col.Type() == series.String || col.Type() == series.Bool:
			attr.Type = Nominal
			attr.Values, columns[colIdx] = nominalColumn(col)
			if len(attr.Values) == 0 {
				// All values missing: keep a placeholder domain so the schema stays valid.
				attr.Values = []string{"?"}
			}
		default:
			attr.Type = Numeric
			columns[colIdx] = col.Float()
		}
		attributes[colIdx] = attr
	}

	schema, err := NewSchema(cfg.relation, attributes, classIndex)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, numRows)
	for rowIdx := range rows {
		row := make([]float64, len(names))
		for colIdx := range names {
			row[colIdx] = columns[colIdx][rowIdx]
		}
		rows[rowIdx] = row
	}
	return WithSchema(schema, rows)
}

func nominalColumn(col series.Series) (domain []string, values []float64) {
	records := col.Records()
	isNaN := col.IsNaN()
	vocabulary := make(map[string]int)
	for ii, value := range records {
		if isNaN[ii] {
			continue
		}
		if _, found := vocabulary[value]; !found {
			vocabulary[value] = 0
			domain = append(domain, value)
		}
	}
	sort.Strings(domain)
	for ii, value := range domain {
		vocabulary[value] = ii
	}
	values = make([]float64, len(records))
	for ii, value := range records {
		if isNaN[ii] {
			values[ii] = Missing()
			continue
		}
		values[ii] = float64(vocabulary[value])
	}
	return
}

func parseDates(col series.Series) ([]float64, error) {
	records := col.Records()
	isNaN := col.IsNaN()
	values := make([]float64, len(records))
	for ii, text := range records {
		if isNaN[ii] {
			values[ii] = Missing()
			continue
		}
		t, err := parseDate(text)
		if err != nil {
			return nil, errors.WithMessagef(err, "row %d", ii)
		}
		values[ii] = float64(t.Unix())
	}
	return values, nil
}

func parseDate(text string) (t time.Time, err error) {
	for _, layout := range dateLayouts {
		t, err = time.ParseInLocation(layout, text, time.UTC)
		if err == nil {
			return
		}
	}
	return t, errors.Errorf("can't parse %q as a date", text)
}

// FormatValue returns the textual form of a cell of the given attribute: exact decimal for numeric
// values, the domain label for nominal ones, DateLayout (UTC) for dates, and "NaN" for missing cells.
func FormatValue(attr Attribute, v float64) string {
	if IsMissing(v) {
		return "NaN"
	}
	switch attr.Type {
	case Nominal:
		return attr.Values[int(v)]
	case Date:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(DateLayout)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ToDataFrame converts the dataset to a gota DataFrame holding the textual form of every cell
// (see FormatValue), one String series per attribute. Missing cells are NA.
func (ds *Dataset) ToDataFrame() dataframe.DataFrame {
	columns := make([]series.Series, len(ds.schema.Attributes))
	for colIdx, attr := range ds.schema.Attributes {
		texts := make([]string, len(ds.rows))
		for rowIdx, row := range ds.rows {
			texts[rowIdx] = FormatValue(attr, row[colIdx])
		}
		columns[colIdx] = series.New(texts, series.String, attr.Name)
	}
	return dataframe.New(columns...)
}
