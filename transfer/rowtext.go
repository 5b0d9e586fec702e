// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"

	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
)

// EncodeCSV returns ds as CSV text with a header line: exact decimals, nominal labels, dates in
// dataset.DateLayout and "NaN" for missing cells.
func EncodeCSV(ds *dataset.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if ds.NumRows() == 0 {
		// gota can't hold a frame without rows, write the header only.
		for ii, name := range columnNames(ds) {
			if ii > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(name)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}
	df := ds.ToDataFrame()
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "converting dataset to data frame")
	}
	if err := df.WriteCSV(&buf); err != nil {
		return nil, errors.Wrap(err, "writing CSV")
	}
	return buf.Bytes(), nil
}

func (s *Sender) sendRowText(ds *dataset.Dataset, frame string) (int, error) {
	csv, err := EncodeCSV(ds)
	if err != nil {
		return 0, err
	}
	header := remote.FrameHeader{Name: frame, NumRows: ds.NumRows()}
	for _, attr := range ds.Schema().Attributes {
		if attr.Type == dataset.Date {
			header.DateColumns = append(header.DateColumns, attr.Name)
		}
	}
	if err := s.session.PutCSV(header, csv); err != nil {
		return 0, err
	}
	return len(csv), nil
}
