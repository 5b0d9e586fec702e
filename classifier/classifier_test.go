// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"bytes"
	"flag"
	"math"
	"strings"
	"testing"

	"github.com/gomlx/rapidsml/decode"
	"github.com/gomlx/rapidsml/learners"
	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/remote/remotetest"
	"github.com/gomlx/rapidsml/transfer"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
	_ = flag.Set("alsologtostderr", "false")
}

// trainingData returns numRows rows with classes "a" and "b" only, out of {"a", "b", "c"}.
func trainingData(t *testing.T, numRows int) *dataset.Dataset {
	schema, err := dataset.NewSchema("weather", []dataset.Attribute{
		{Name: "temperature", Type: dataset.Numeric},
		{Name: "outlook", Type: dataset.Nominal, Values: []string{"sunny", "overcast", "rainy"}},
		{Name: "play", Type: dataset.Nominal, Values: []string{"a", "b", "c"}},
	}, 2)
	require.NoError(t, err)
	ds := dataset.New(schema, numRows)
	for ii := range numRows {
		temperature := float64(60 + ii%30)
		if ii%7 == 0 {
			temperature = dataset.Missing()
		}
		require.NoError(t, ds.Add([]float64{temperature, float64(ii % 3), float64(ii % 2)}))
	}
	return ds
}

func numericData(t *testing.T, numRows int) *dataset.Dataset {
	schema, err := dataset.NewSchema("houses", []dataset.Attribute{
		{Name: "rooms", Type: dataset.Numeric},
		{Name: "price", Type: dataset.Numeric},
	}, 1)
	require.NoError(t, err)
	ds := dataset.New(schema, numRows)
	for ii := range numRows {
		require.NoError(t, ds.Add([]float64{float64(ii%5 + 1), float64(100 * (ii%5 + 1))}))
	}
	return ds
}

// engine emulates cuML in a fake session: it binds the model on fit, and sets predictions with one
// entry per row of the test frame. rowsDelta changes the number of predictions returned.
type engine struct {
	rowsDelta int
	stderr    string

	// predictFails makes predict scripts raise before assigning the predictions.
	predictFails bool
}

func (e *engine) onScript(s *remotetest.Session, script string) (stdout, stderr string, err error) {
	switch {
	case strings.Contains(script, ".fit("):
		ref := strings.Fields(script[strings.Index(script, learners.ModelPrefix):])[0]
		s.SetText(ref, "RandomForestClassifier(n_estimators=10)")
	case strings.Contains(script, "_to_list("):
		if e.predictFails {
			return "", "Traceback (most recent call last):\nValueError: X has 3 features, expected 4", nil
		}
		frame, found := s.Frame(learners.TestFrame)
		if !found {
			return "", "NameError: name 'cuml_classifier_test' is not defined", nil
		}
		preds := make([]any, frame.Header.NumRows+e.rowsDelta)
		for ii := range preds {
			switch {
			case strings.Contains(script, "predict_proba"):
				// Only 2 classes were present in training.
				preds[ii] = []any{0.25, 0.75}
			case ii%2 == 0:
				preds[ii] = 1.0
			default:
				preds[ii] = 0.0
			}
		}
		s.SetValue(learners.PredictionsVariable, preds)
	case strings.Contains(script, learners.VersionVariable):
		s.SetText(learners.VersionVariable, "24.02.01")
	}
	return "", e.stderr, nil
}

func newTestClassifier(t *testing.T, opts Options) (*Classifier, *remote.Registry, *remotetest.Starter, *engine) {
	registry, starter := remotetest.NewRegistry()
	e := &engine{}
	starter.Configure = func(s *remotetest.Session) { s.OnScript = e.onScript }
	c, err := New(registry, opts)
	require.NoError(t, err)
	return c, registry, starter, e
}

func rowTextOptions() Options {
	opts := DefaultOptions()
	opts.Strategy = transfer.RowText
	return opts
}

func TestZeroRFallbackWithoutRemote(t *testing.T) {
	c, _, starter, _ := newTestClassifier(t, rowTextOptions())
	ds := trainingData(t, 10)
	for ii := range ds.NumRows() {
		ds.Row(ii)[2] = dataset.Missing()
	}
	require.NoError(t, c.Train(ds))
	assert.Equal(t, ZeroRFallback, c.State())

	preds, err := c.Predict(trainingData(t, 5))
	require.NoError(t, err)
	require.Len(t, preds, 5)
	for _, dist := range preds {
		assert.InDeltaSlice(t, []float64{1. / 3, 1. / 3, 1. / 3}, dist, 1e-12)
	}
	assert.Zero(t, starter.Starts(), "no session should have been started")
	assert.Contains(t, c.String(), "ZeroR")

	// ZeroR is sticky: re-training with labels still doesn't use the remote environment.
	require.NoError(t, c.Train(trainingData(t, 10)))
	assert.Equal(t, ZeroRFallback, c.State())
	assert.Zero(t, starter.Starts())
}

func TestZeroRFallbackOnlyClass(t *testing.T) {
	schema, err := dataset.NewSchema("r", []dataset.Attribute{{Name: "y", Type: dataset.Numeric}}, 0)
	require.NoError(t, err)
	ds := dataset.New(schema, 2)
	require.NoError(t, ds.Add([]float64{1}))
	require.NoError(t, ds.Add([]float64{3}))
	opts := DefaultOptions()
	opts.Learner = "Ridge"
	c, _, starter, _ := newTestClassifier(t, opts)
	require.NoError(t, c.Train(ds))
	assert.Equal(t, ZeroRFallback, c.State())
	preds, err := c.Predict(ds)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2}, {2}}, preds)
	assert.Zero(t, starter.Starts())
}

func TestTrainPredict(t *testing.T) {
	c, registry, starter, _ := newTestClassifier(t, rowTextOptions())
	assert.Equal(t, Untrained, c.State())
	_, err := c.Predict(trainingData(t, 1))
	require.ErrorIs(t, err, ErrNotTrained)

	require.NoError(t, c.Train(trainingData(t, 100)))
	assert.Equal(t, RemoteTrained, c.State())
	assert.Equal(t, []bool{false, false, true}, c.EmptyClassMask())
	assert.Contains(t, c.String(), "RandomForestClassifier(n_estimators=10)")
	assert.Zero(t, registry.RefCount(c.Options().Handle), "session must be released after Train")

	session := starter.Last()
	frame, found := session.Frame(learners.TrainingFrame)
	require.True(t, found)
	assert.Equal(t, 100, frame.Header.NumRows)
	// NominalToBinary expands outlook, the class is sent as its index.
	firstLine := string(frame.Payload[:bytes.IndexByte(frame.Payload, '\n')])
	assert.Equal(t, "temperature,outlook=sunny,outlook=overcast,outlook=rainy,play", firstLine)

	test := trainingData(t, 100)
	preds, err := c.Predict(test)
	require.NoError(t, err)
	require.Len(t, preds, 100)
	for ii, dist := range preds {
		require.Len(t, dist, 3)
		assert.InDeltaf(t, 1.0, floats.Sum(dist), 1e-9, "row %d", ii)
		assert.Zerof(t, dist[2], "row %d", ii)
		assert.InDelta(t, 0.75, dist[1], 1e-12)
	}
	testFrame, _ := session.Frame(learners.TestFrame)
	assert.NotContains(t, string(testFrame.Payload), "play", "class must be removed before predicting")

	again, err := c.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, preds, again)
	assert.Zero(t, registry.RefCount(c.Options().Handle))
	assert.Equal(t, 1, starter.Starts(), "session should be reused")

	empty, err := c.Predict(dataset.New(test.Schema(), 0))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeviceShared(t *testing.T) {
	mem := transfer.NewSharedMemory(t.TempDir(), 0)
	opts := DefaultOptions()
	opts.Strategy = transfer.DeviceShared
	opts.DeviceMemory = mem
	c, registry, starter, _ := newTestClassifier(t, opts)

	require.NoError(t, c.Train(trainingData(t, 20)))
	preds, err := c.Predict(trainingData(t, 20))
	require.NoError(t, err)
	assert.Len(t, preds, 20)
	assert.Zero(t, mem.Outstanding())
	assert.Zero(t, starter.Last().OpenSharedFrames())
	assert.Zero(t, registry.RefCount(opts.Handle))

	// A broken session still frees the shared buffer, and is discarded.
	starter.Last().FailTransport(remotetest.MethodExecuteScript)
	_, err = c.Predict(trainingData(t, 20))
	require.Error(t, err)
	assert.True(t, remote.IsTransportError(err))
	assert.Zero(t, mem.Outstanding())
	assert.False(t, registry.Live(opts.Handle))
	assert.Equal(t, 1, starter.Last().Closed())
}

func TestRegression(t *testing.T) {
	opts := rowTextOptions()
	opts.Learner = "ridge"
	c, _, _, _ := newTestClassifier(t, opts)
	require.NoError(t, c.Train(numericData(t, 10)))
	assert.Nil(t, c.EmptyClassMask())
	preds, err := c.Predict(numericData(t, 4))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {0}, {1}, {0}}, preds)
}

func TestModelNotResident(t *testing.T) {
	c, _, starter, _ := newTestClassifier(t, rowTextOptions())
	require.NoError(t, c.Train(trainingData(t, 10)))
	session := starter.Last()
	session.Unset(string(c.ModelRef()))
	puts := session.Calls(remotetest.MethodPutCSV)

	_, err := c.Predict(trainingData(t, 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelNotResident))
	assert.Equal(t, puts, session.Calls(remotetest.MethodPutCSV), "no data should be sent")
	assert.Equal(t, RemoteTrained, c.State())
}

func TestReleaseAfterUse(t *testing.T) {
	desc := learners.MustLookup("RandomForestClassifier")
	desc.ReleaseAfterUse = true
	opts := rowTextOptions()
	opts.Descriptor = &desc
	c, _, starter, _ := newTestClassifier(t, opts)
	require.NoError(t, c.Train(trainingData(t, 10)))
	scripts := starter.Last().Scripts()
	assert.Equal(t, "del "+string(c.ModelRef())+"\n", scripts[len(scripts)-1])

	_, err := c.Predict(trainingData(t, 3))
	assert.True(t, errors.Is(err, ErrModelNotResident))
}

func TestInvalidDescriptor(t *testing.T) {
	opts := rowTextOptions()
	opts.Descriptor = &learners.Descriptor{Name: "KMeans", Module: "cluster"}
	c, _, starter, _ := newTestClassifier(t, opts)
	err := c.Train(trainingData(t, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, learners.ErrInvalidDescriptor))
	assert.Zero(t, starter.Starts())
	assert.Equal(t, Untrained, c.State())
}

func TestUnsupportedData(t *testing.T) {
	opts := rowTextOptions()
	opts.Learner = "Ridge"
	c, registry, starter, _ := newTestClassifier(t, opts)
	err := c.Train(trainingData(t, 10))
	assert.True(t, errors.Is(err, ErrUnsupportedData), "a regressor can't learn a nominal class")
	assert.Zero(t, starter.Starts())
	assert.False(t, c.Capabilities().NominalClass)
	assert.True(t, c.Capabilities().NumericClass)

	c, _, _, _ = newTestClassifier(t, rowTextOptions())
	require.NoError(t, c.Train(trainingData(t, 10)))
	_, err = c.Predict(numericData(t, 3))
	assert.True(t, errors.Is(err, ErrUnsupportedData), "schema differs from training")

	opts = rowTextOptions()
	opts.SupervisedNominalToBinary = true
	_, err = New(registry, opts)
	require.Error(t, err)
	_, err = New(registry, Options{Learner: "DeepForest"})
	require.Error(t, err)
	_, err = New(nil, rowTextOptions())
	require.Error(t, err)
}

func TestPredictionErrors(t *testing.T) {
	c, registry, _, e := newTestClassifier(t, rowTextOptions())
	require.NoError(t, c.Train(trainingData(t, 10)))

	e.rowsDelta = -1
	_, err := c.Predict(trainingData(t, 5))
	assert.True(t, errors.Is(err, decode.ErrRowCountMismatch))
	assert.Zero(t, registry.RefCount(c.Options().Handle))

	e.rowsDelta = 0
	e.stderr = "cuml/common/exceptions.py: RuntimeError: out of memory"
	_, err = c.Predict(trainingData(t, 5))
	assert.True(t, errors.Is(err, remote.ErrRemoteScript))
	assert.Contains(t, err.Error(), "out of memory")
	assert.Zero(t, registry.RefCount(c.Options().Handle))
}

func TestTrainScriptError(t *testing.T) {
	c, _, _, e := newTestClassifier(t, rowTextOptions())
	e.stderr = "TypeError: __init__() got an unexpected keyword argument 'n_trees'"
	err := c.Train(trainingData(t, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrRemoteScript))
	assert.Equal(t, Untrained, c.State(), "a failed Train must not change the state")

	opts := rowTextOptions()
	opts.ContinueOnError = true
	c, _, _, e = newTestClassifier(t, opts)
	e.stderr = "FutureWarning: max_features='auto' is deprecated"
	require.NoError(t, c.Train(trainingData(t, 10)))
	preds, err := c.Predict(trainingData(t, 2))
	require.NoError(t, err)
	assert.Len(t, preds, 2)
}

func TestFailedPredictDoesNotReusePredictions(t *testing.T) {
	opts := rowTextOptions()
	opts.ContinueOnError = true
	c, _, starter, e := newTestClassifier(t, opts)
	require.NoError(t, c.Train(trainingData(t, 10)))
	preds, err := c.Predict(trainingData(t, 4))
	require.NoError(t, err)
	require.Len(t, preds, 4)

	e.predictFails = true
	preds, err = c.Predict(trainingData(t, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, decode.ErrEmptyRemoteResult), "got %v", err)
	assert.Nil(t, preds)
	exists, err := starter.Last().VariableExists(learners.PredictionsVariable)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEnvironmentUnavailable(t *testing.T) {
	c, registry, starter, _ := newTestClassifier(t, rowTextOptions())
	starter.Err = &remote.EnvironmentError{Handle: c.Options().Handle, Report: "No module named 'cuml'"}
	err := c.Train(trainingData(t, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrEnvironmentUnavailable))
	assert.Contains(t, err.Error(), "No module named 'cuml'")
	assert.Equal(t, Untrained, c.State())
	assert.False(t, registry.Live(c.Options().Handle))

	starter.Err = nil
	require.NoError(t, c.Train(trainingData(t, 10)))
}

func TestTransportErrorDiscardsSession(t *testing.T) {
	c, registry, starter, _ := newTestClassifier(t, rowTextOptions())
	require.NoError(t, c.Train(trainingData(t, 10)))
	first := starter.Last()
	first.FailTransport(remotetest.MethodPutCSV)

	err := c.Train(trainingData(t, 10))
	require.Error(t, err)
	assert.True(t, remote.IsTransportError(err))
	assert.Equal(t, RemoteTrained, c.State())
	assert.False(t, registry.Live(c.Options().Handle))
	assert.Equal(t, 1, first.Closed())

	// The next call starts a new session, which doesn't have the model.
	_, err = c.Predict(trainingData(t, 2))
	assert.True(t, errors.Is(err, ErrModelNotResident))
	assert.Equal(t, 2, starter.Starts())
	require.NoError(t, c.Train(trainingData(t, 10)))
}

func TestEngineVersion(t *testing.T) {
	c, _, starter, _ := newTestClassifier(t, rowTextOptions())
	v, err := c.EngineVersion()
	require.NoError(t, err)
	assert.InDelta(t, 24.02, v, 1e-9)
	v, err = c.EngineVersion()
	require.NoError(t, err)
	assert.InDelta(t, 24.02, v, 1e-9)
	assert.Equal(t, 1, starter.Last().Calls(remotetest.MethodExecuteScript), "version must be cached")
}

func TestSaveLoad(t *testing.T) {
	c, registry, _, _ := newTestClassifier(t, rowTextOptions())
	require.NoError(t, c.Train(trainingData(t, 30)))
	test := trainingData(t, 6)
	want, err := c.Predict(test)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Save(&buf))
	saved := buf.Bytes()

	loaded, err := Load(bytes.NewReader(saved), registry, rowTextOptions())
	require.NoError(t, err)
	assert.Equal(t, RemoteTrained, loaded.State())
	assert.Equal(t, c.ModelRef(), loaded.ModelRef())
	assert.Equal(t, c.String(), loaded.String())
	got, err := loaded.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A fresh environment doesn't have the remote model.
	otherRegistry, _ := remotetest.NewRegistry()
	loaded, err = Load(bytes.NewReader(saved), otherRegistry, rowTextOptions())
	require.NoError(t, err)
	_, err = loaded.Predict(test)
	assert.True(t, errors.Is(err, ErrModelNotResident))

	// ZeroR models predict without the remote environment.
	zr, _, _, _ := newTestClassifier(t, rowTextOptions())
	ds := trainingData(t, 4)
	for ii := range ds.NumRows() {
		ds.Row(ii)[2] = math.NaN()
	}
	require.NoError(t, zr.Train(ds))
	buf.Reset()
	require.NoError(t, zr.Save(&buf))
	loaded, err = Load(&buf, otherRegistry, rowTextOptions())
	require.NoError(t, err)
	assert.Equal(t, ZeroRFallback, loaded.State())
	got, err = loaded.Predict(test)
	require.NoError(t, err)
	assert.Len(t, got, 6)
}
