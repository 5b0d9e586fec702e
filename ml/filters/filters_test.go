// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package filters

import (
	"bytes"
	"encoding/gob"
	"strings"
	"testing"

	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weather = `outlook,temp,windy,play
sunny,85,false,no
overcast,?,true,yes
rainy,70,?,yes
?,65,true,no
sunny,75,false,yes
`

func loadWeather(t *testing.T) *dataset.Dataset {
	ds, err := dataset.ReadCSV(strings.NewReader(weather), "play", dataset.NominalColumns("windy"))
	require.NoError(t, err)
	return ds
}

func TestReplaceMissing(t *testing.T) {
	ds := loadWeather(t)
	f := &ReplaceMissing{}
	out, err := FitApply(f, ds)
	require.NoError(t, err)
	require.Equal(t, ds.NumRows(), out.NumRows())

	// outlook: sunny is the mode (index 2 in [overcast rainy sunny]).
	assert.Equal(t, 2.0, out.Value(3, 0))
	// temp: mean of 85, 70, 65, 75.
	assert.InDelta(t, 73.75, out.Value(1, 1), 1e-12)
	// windy: [false true], "true" and "false" tie at 2 each -> first one wins.
	assert.Equal(t, 0.0, out.Value(2, 2))
	assert.True(t, ds.IsMissing(1, 1), "input must not be modified")

	for row := 0; row < out.NumRows(); row++ {
		for col := 0; col < out.NumAttributes(); col++ {
			assert.Falsef(t, out.IsMissing(row, col), "row %d col %d still missing", row, col)
		}
	}
}

func TestReplaceMissingKeepsClass(t *testing.T) {
	text := "x,y\n1,a\n?,?\n3,b\n"
	ds, err := dataset.ReadCSV(strings.NewReader(text), "y")
	require.NoError(t, err)
	out, err := FitApply(&ReplaceMissing{}, ds)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.Value(1, 0))
	assert.True(t, out.IsMissing(1, 1), "class values are never replaced")
}

func TestNominalToBinary(t *testing.T) {
	ds := loadWeather(t)
	f := &NominalToBinary{}
	out, err := FitApply(f, ds)
	require.NoError(t, err)

	schema := out.Schema()
	names := make([]string, schema.NumAttributes())
	for ii, attr := range schema.Attributes {
		names[ii] = attr.Name
	}
	assert.Equal(t, []string{"outlook=overcast", "outlook=rainy", "outlook=sunny", "temp", "windy", "play"}, names)
	assert.Equal(t, 5, schema.ClassIndex)
	assert.Equal(t, dataset.Nominal, schema.Attribute(5).Type)
	assert.Equal(t, dataset.Numeric, schema.Attribute(4).Type)

	assert.Equal(t, []float64{0, 0, 1, 85, 0, 0}, out.Row(0))
	assert.Equal(t, []float64{1, 0, 0}, out.Row(1)[:3])
	for col := 0; col < 3; col++ {
		assert.True(t, out.IsMissing(3, col), "missing outlook spreads to every indicator")
	}

	// Applying on another dataset with the same schema gives the same layout.
	again, err := f.Apply(ds.Subset([]int{4}))
	require.NoError(t, err)
	assert.Equal(t, out.Row(4), again.Row(0))
}

func TestFiltersBeforeFit(t *testing.T) {
	ds := loadWeather(t)
	_, err := (&ReplaceMissing{}).Apply(ds)
	require.Error(t, err)
	_, err = (&NominalToBinary{}).Apply(ds)
	require.Error(t, err)
}

func TestRemoveClass(t *testing.T) {
	ds := loadWeather(t)
	out, err := RemoveClass(ds)
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumAttributes())
	assert.Equal(t, -1, out.ClassIndex())
	assert.Equal(t, ds.NumRows(), out.NumRows())
	_, err = RemoveClass(out)
	require.Error(t, err)
}

func TestFiltersGob(t *testing.T) {
	ds := loadWeather(t)
	rm := &ReplaceMissing{}
	require.NoError(t, rm.Fit(ds))
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(rm))
	var restored ReplaceMissing
	require.NoError(t, gob.NewDecoder(&buf).Decode(&restored))

	want, err := rm.Apply(ds)
	require.NoError(t, err)
	got, err := restored.Apply(ds)
	require.NoError(t, err)
	for row := 0; row < ds.NumRows(); row++ {
		assert.Equal(t, want.Row(row)[:3], got.Row(row)[:3])
	}
}
