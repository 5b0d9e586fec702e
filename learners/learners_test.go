// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package learners

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	names := Names()
	require.Len(t, names, 17)
	assert.Contains(t, names, DefaultLearner)
	for _, d := range Catalog() {
		require.NoErrorf(t, d.Validate(), "learner %s", d.Name)
		if d.Probabilities {
			assert.Truef(t, d.Classifier, "learner %s produces probabilities but is not a classifier", d.Name)
		}
		assert.NotEmptyf(t, d.DefaultOptions, "learner %s", d.Name)
	}

	d, err := Lookup("randomforestclassifier")
	require.NoError(t, err)
	assert.Equal(t, "ensemble", d.Module)
	assert.True(t, d.Probabilities)

	_, err = Lookup("DeepForest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KNeighborsRegressor")
	assert.Panics(t, func() { MustLookup("DeepForest") })
	assert.Equal(t, "svm", MustLookup("SVC").Module)
}

func TestTrainScript(t *testing.T) {
	ref := NewModelRef("abc123")
	b := NewBuilder(MustLookup("RandomForestClassifier"), " n_estimators=10, max_depth=4 ")
	script, err := b.TrainScript(ref, TrainingFrame, "play")
	require.NoError(t, err)
	want := `from cuml import ensemble
import cupy as cp
import cudf
X = rapids_classifier_training.drop(columns=["play"])
Y = rapids_classifier_training["play"]
weka_cuml_learnerabc123 = ensemble.RandomForestClassifier(n_estimators=10, max_depth=4)
weka_cuml_learnerabc123.fit(X.astype('float32'), Y.astype('int32'))
`
	assert.Equal(t, want, script)

	script, err = NewBuilder(MustLookup("Ridge"), "").TrainScript(ref, TrainingFrame, "price")
	require.NoError(t, err)
	assert.Contains(t, script, "weka_cuml_learnerabc123 = linear_model.Ridge()\n")
	assert.Contains(t, script, "Y.astype('float32')")
}

func TestInvalidDescriptor(t *testing.T) {
	ref := NewModelRef("x")
	for _, d := range []Descriptor{
		{Name: "Clusterer", Module: "cluster"},
		{Name: "Bad Name", Module: "ensemble", Classifier: true},
		{Name: "Fine", Module: "ensemble;import os", Classifier: true},
	} {
		_, err := NewBuilder(d, "").TrainScript(ref, TrainingFrame, "class")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDescriptor), "descriptor %+v", d)
		_, err = NewBuilder(d, "").PredictScript(ref, TestFrame, true)
		assert.True(t, errors.Is(err, ErrInvalidDescriptor), "descriptor %+v", d)
	}
}

func TestPredictScript(t *testing.T) {
	ref := NewModelRef("h")
	script, err := NewBuilder(MustLookup("LogisticRegression"), "").PredictScript(ref, TestFrame, true)
	require.NoError(t, err)
	want := `preds = None
from cuml.linear_model import LogisticRegression
X = cuml_classifier_test
preds = weka_cuml_learnerh.predict_proba(X.astype('float32'))
preds = _to_list(preds)
`
	assert.Equal(t, want, script)

	script, err = NewBuilder(MustLookup("SVC"), "").PredictScript(ref, TestFrame, true)
	require.NoError(t, err)
	assert.Contains(t, script, ".predict(X.astype('float32'))")
	assert.Equal(t, "del weka_cuml_learnerh\n", NewBuilder(MustLookup("SVC"), "").CleanupScript(ref))
}

func TestModelHash(t *testing.T) {
	h0, h1 := NewModelHash(), NewModelHash()
	assert.NotEqual(t, h0, h1)
	assert.Len(t, h0, 32)
	assert.True(t, identifierRE.MatchString(string(NewModelRef(h0))))
	assert.True(t, strings.HasPrefix(string(NewModelRef(h0)), ModelPrefix))
}

func TestParseVersion(t *testing.T) {
	for text, want := range map[string]float64{"24.02.01": 24.02, "23.10.00\n": 23.10, "21.08": 21.08, "22": 22} {
		got, err := ParseVersion(text)
		require.NoError(t, err, "version %q", text)
		assert.InDelta(t, want, got, 1e-9, "version %q", text)
	}
	_, err := ParseVersion("nightly")
	require.Error(t, err)
	assert.Equal(t, "import cuml\ncumlv = cuml.__version__\n", VersionScript())
}
