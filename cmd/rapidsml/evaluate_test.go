// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, splitList(" a,, b c ,"))
	assert.Empty(t, splitList(""))
}

func TestEvaluateNominal(t *testing.T) {
	ds, err := dataset.ReadCSV(strings.NewReader("x,class\n1,no\n2,yes\n3,?\n4,yes\n"), "class")
	require.NoError(t, err)
	m := evaluate(ds, [][]float64{{0.9, 0.1}, {0.4, 0.6}, {1, 0}, {0.7, 0.3}})
	assert.True(t, m.nominal)
	assert.Equal(t, 3, m.count, "rows with a missing class are skipped")
	assert.Equal(t, 2, m.correct)
	assert.InDelta(t, 2.0/3.0, m.accuracy(), 1e-9)

	merged := mergeMetrics([]metrics{m, m})
	assert.Equal(t, 6, merged.count)
	assert.Equal(t, 4, merged.correct)
	assert.Contains(t, metricsTable(merged).Render(), "66.67%")
}

func TestEvaluateNumeric(t *testing.T) {
	ds, err := dataset.ReadCSV(strings.NewReader("x,price\n1,10\n2,20\n"), "price")
	require.NoError(t, err)
	m := evaluate(ds, [][]float64{{12}, {17}})
	assert.False(t, m.nominal)
	assert.InDelta(t, 2.5, m.mae(), 1e-9)
	assert.InDelta(t, 2.5495, m.rmse(), 1e-4)
	assert.Equal(t, "no rows evaluated", metrics{}.String())
}

func TestFoldHandle(t *testing.T) {
	base := remote.NewHandle("/opt/conda/bin/python", "")
	h0, h1 := foldHandle(base, 0), foldHandle(base, 1)
	assert.NotEqual(t, h0, h1, "concurrent folds must not share a server")
	assert.NotEqual(t, base, h0)
	assert.Equal(t, base.Executable, h0.Executable)
	assert.Equal(t, "/opt/conda/bin/python@cv1", h1.String())
	assert.Equal(t, "gpu0-cv1", foldHandle(remote.NewHandle("", "gpu0"), 1).ServerID)
}
