// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier trains and predicts with a cuML learner running in a remote session.
//
// A Classifier borrows its session from a remote.Registry for the duration of each call, transfers the
// (filtered) data with the configured transfer.Strategy, runs the scripts built by the learners package
// and decodes the predictions with the decode package. When the training data has no labeled rows, or
// no feature attributes, it falls back to a ZeroR model and never touches the remote environment.
package classifier

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/rapidsml/decode"
	"github.com/gomlx/rapidsml/learners"
	"github.com/gomlx/rapidsml/ml/filters"
	"github.com/gomlx/rapidsml/ml/zeror"
	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/transfer"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrModelNotResident is returned by Predict when the remote model is not bound in the session,
	// typically because the session was recycled since training. The classifier must be re-trained.
	ErrModelNotResident = errors.New("model is not resident in the remote session")

	// ErrUnsupportedData is returned when a dataset doesn't match the learner's capabilities, or (for
	// Predict) the schema the classifier was trained on.
	ErrUnsupportedData = errors.New("unsupported data")

	// ErrNotTrained is returned by Predict before a successful Train.
	ErrNotTrained = errors.New("classifier not trained")
)

// State of a Classifier.
type State int

const (
	Untrained State = iota
	ZeroRFallback
	RemoteTrained
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Untrained:
		return "Untrained"
	case ZeroRFallback:
		return "ZeroRFallback"
	case RemoteTrained:
		return "RemoteTrained"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configure a Classifier.
type Options struct {
	// Learner is the name of a learner in the catalog, see learners.Names. Empty means
	// learners.DefaultLearner.
	Learner string

	// Descriptor, if set, is used instead of looking up Learner in the catalog.
	Descriptor *learners.Descriptor

	// LearnerOptions are passed verbatim to the learner's constructor.
	LearnerOptions string

	// Strategy used to transfer datasets.
	Strategy transfer.Strategy

	// Handle of the remote environment.
	Handle remote.Handle

	// ContinueOnError logs the error stream of remote scripts instead of failing.
	ContinueOnError bool

	// Debug logs every remote script at info level.
	Debug bool

	// SupervisedNominalToBinary asks for the class-aware nominal-to-binary conversion. It is not
	// available, and New fails if it is set.
	SupervisedNominalToBinary bool

	// DeviceMemory, if set, is where DeviceShared buffers are allocated.
	DeviceMemory transfer.DeviceMemory
}

// DefaultOptions returns the options for the default learner, transfer strategy and environment.
func DefaultOptions() Options {
	return Options{
		Learner:  learners.DefaultLearner,
		Strategy: transfer.DefaultStrategy,
	}
}

// Capabilities of a classifier: which data it accepts for training.
type Capabilities struct {
	NumericAttributes, NominalAttributes, DateAttributes bool
	MissingValues, MissingClassValues                    bool
	NominalClass, NumericClass                           bool
}

// fitted is everything learned by one Train call. It is replaced as a whole, only when Train succeeds.
type fitted struct {
	state       State
	description string
	schema      *dataset.Schema

	// Nominal classes only.
	emptyClassMask []bool
	priors         []float64

	zeroR          *zeror.Model
	replaceMissing *filters.ReplaceMissing
	nominalToBin   *filters.NominalToBinary
}

// Classifier wraps one remote learner. Its methods are safe for concurrent use, and are serialized.
type Classifier struct {
	registry  *remote.Registry
	opts      Options
	builder   *learners.Builder
	requester string
	ref       learners.ModelRef

	mu            sync.Mutex
	fit           fitted
	engineVersion float64
}

// New creates an untrained Classifier that borrows sessions from registry.
//
// The learner's descriptor is only validated by Train, so that invalid descriptors fail with
// learners.ErrInvalidDescriptor at the first use.
func New(registry *remote.Registry, opts Options) (*Classifier, error) {
	if registry == nil {
		return nil, errors.New("classifier.New requires a remote.Registry")
	}
	if opts.SupervisedNominalToBinary {
		return nil, errors.New("supervised nominal to binary conversion is not supported, " +
			"use the (default) unsupervised conversion")
	}
	var desc learners.Descriptor
	if opts.Descriptor != nil {
		desc = *opts.Descriptor
	} else {
		if opts.Learner == "" {
			opts.Learner = learners.DefaultLearner
		}
		var err error
		desc, err = learners.Lookup(opts.Learner)
		if err != nil {
			return nil, err
		}
	}
	opts.Learner = desc.Name
	c := &Classifier{
		registry:  registry,
		opts:      opts,
		builder:   learners.NewBuilder(desc, opts.LearnerOptions),
		requester: "classifier-" + uuid.NewString(),
		ref:       learners.NewModelRef(learners.NewModelHash()),
		fit:       fitted{state: Untrained},
	}
	return c, nil
}

// State returns the current state of the classifier.
func (c *Classifier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fit.state
}

// ModelRef returns the name of the remote model. It stays the same across re-training.
func (c *Classifier) ModelRef() learners.ModelRef { return c.ref }

// Options returns the options the classifier was created with.
func (c *Classifier) Options() Options { return c.opts }

// Capabilities returns the kinds of data the learner accepts.
func (c *Classifier) Capabilities() Capabilities {
	desc := c.builder.Descriptor()
	return Capabilities{
		NumericAttributes:  true,
		NominalAttributes:  true,
		DateAttributes:     true,
		MissingValues:      true,
		MissingClassValues: true,
		NominalClass:       desc.Classifier,
		NumericClass:       desc.Regressor,
	}
}

// check returns an error wrapping ErrUnsupportedData if ds can't be used for training.
func (caps Capabilities) check(ds *dataset.Dataset) error {
	if !ds.Schema().HasClass() {
		return errors.WithMessage(ErrUnsupportedData, "dataset has no class attribute")
	}
	classAttr := ds.ClassAttribute()
	switch classAttr.Type {
	case dataset.Nominal:
		if !caps.NominalClass {
			return errors.WithMessagef(ErrUnsupportedData, "nominal class %q requires a classifier", classAttr.Name)
		}
	case dataset.Numeric:
		if !caps.NumericClass {
			return errors.WithMessagef(ErrUnsupportedData, "numeric class %q requires a regressor", classAttr.Name)
		}
	default:
		return errors.WithMessagef(ErrUnsupportedData, "class %q of type %s is not supported", classAttr.Name, classAttr.Type)
	}
	return nil
}

// String returns a description of the trained model.
func (c *Classifier) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.fit.state {
	case ZeroRFallback:
		return c.fit.zeroR.String()
	case RemoteTrained:
		var sb strings.Builder
		fmt.Fprintf(&sb, "cuML %s(%s)\n", c.opts.Learner, c.builder.Options())
		sb.WriteString(c.fit.description)
		return sb.String()
	}
	return "cuML " + c.opts.Learner + ": no model built yet."
}

// Train fits the classifier to ds, replacing whatever it learned before. The classifier's state is
// unchanged if Train fails.
//
// Once the classifier fell back to ZeroR, it stays there: later calls to Train refit the ZeroR model
// without using the remote environment.
func (c *Classifier) Train(ds *dataset.Dataset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.builder.Descriptor().Validate(); err != nil {
		return err
	}
	if err := c.Capabilities().check(ds); err != nil {
		return err
	}
	data, err := ds.WithoutMissingClass()
	if err != nil {
		return err
	}
	zr, err := zeror.Fit(data)
	if err != nil {
		return err
	}
	fit := fitted{schema: ds.Schema().Clone(), zeroR: zr}
	if !zr.IsNumeric() {
		fit.priors = zr.Distribution()
	}

	switch {
	case data.NumRows() == 0:
		klog.Warningf("classifier %s: no rows with a non-missing class, using ZeroR model", c.ref)
		fit.state = ZeroRFallback
	case data.NumAttributes() == 1:
		klog.Warningf("classifier %s: only the class attribute is present, using ZeroR model", c.ref)
		fit.state = ZeroRFallback
	case c.fit.state == ZeroRFallback:
		klog.Warningf("classifier %s: keeping the ZeroR model selected by a previous training", c.ref)
		fit.state = ZeroRFallback
	}
	if fit.state == ZeroRFallback {
		c.fit = fit
		return nil
	}

	if data.ClassAttribute().IsNominal() {
		counts, err := data.ClassCounts()
		if err != nil {
			return err
		}
		fit.emptyClassMask = make([]bool, len(counts))
		for ii, count := range counts {
			fit.emptyClassMask[ii] = count == 0
		}
	}
	fit.replaceMissing = &filters.ReplaceMissing{}
	if data, err = filters.FitApply(fit.replaceMissing, data); err != nil {
		return err
	}
	fit.nominalToBin = &filters.NominalToBinary{}
	if data, err = filters.FitApply(fit.nominalToBin, data); err != nil {
		return err
	}
	fit.zeroR = nil

	className := data.ClassAttribute().Name
	err = c.withSession(func(session remote.Session) error {
		sender := c.newSender(session)
		h, err := sender.Send(data, learners.TrainingFrame)
		defer c.releaseTransfer(sender, h)
		if err != nil {
			return err
		}
		script, err := c.builder.TrainScript(c.ref, learners.TrainingFrame, className)
		if err != nil {
			return err
		}
		if err = c.runScript(session, "train", script); err != nil {
			return err
		}
		fit.description, err = session.VariableAsText(string(c.ref))
		if err != nil {
			return errors.WithMessagef(err, "reading description of model %s", c.ref)
		}
		return c.cleanupLocked(session)
	})
	if err != nil {
		return errors.WithMessagef(err, "training %s on %d rows", c.opts.Learner, data.NumRows())
	}
	fit.state = RemoteTrained
	c.fit = fit
	klog.V(1).Infof("classifier %s: trained %s on %d rows x %d attributes", c.ref, c.opts.Learner,
		data.NumRows(), data.NumAttributes())
	return nil
}

// Predict returns one distribution per row of ds: class probabilities (or a one-hot vector) for a
// nominal class, or the single predicted value for a numeric class.
//
// ds must have the schema used for training. Its class values, if any, are ignored.
func (c *Classifier) Predict(ds *dataset.Dataset) ([][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.fit.state {
	case Untrained:
		return nil, ErrNotTrained
	case ZeroRFallback:
		return c.fit.zeroR.PredictBatch(ds.NumRows()), nil
	}
	if err := c.fit.schema.Compatible(ds.Schema()); err != nil {
		return nil, errors.WithMessagef(ErrUnsupportedData, "dataset doesn't match the training data: %v", err)
	}
	if ds.NumRows() == 0 {
		return [][]float64{}, nil
	}

	classAttr := ds.ClassAttribute()
	data, err := c.fit.replaceMissing.Apply(ds)
	if err != nil {
		return nil, err
	}
	if data, err = c.fit.nominalToBin.Apply(data); err != nil {
		return nil, err
	}
	if data, err = filters.RemoveClass(data); err != nil {
		return nil, err
	}

	var batch decode.Batch
	err = c.withSession(func(session remote.Session) error {
		resident, err := session.VariableExists(string(c.ref))
		if err != nil {
			return err
		}
		if !resident {
			return errors.WithMessagef(ErrModelNotResident, "model %s", c.ref)
		}
		sender := c.newSender(session)
		h, err := sender.Send(data, learners.TestFrame)
		defer c.releaseTransfer(sender, h)
		if err != nil {
			return err
		}
		script, err := c.builder.PredictScript(c.ref, learners.TestFrame, classAttr.IsNominal())
		if err != nil {
			return err
		}
		c.logScript("predict", script)
		stdout, stderr, err := session.ExecuteScript(script)
		if err != nil {
			return err
		}
		req := decode.Request{
			Stdout:          stdout,
			Stderr:          stderr,
			NumRows:         data.NumRows(),
			ClassValues:     classAttr.Values,
			Probabilities:   c.builder.ProducesProbabilities(classAttr.IsNominal()),
			EmptyClassMask:  c.fit.emptyClassMask,
			Priors:          c.fit.priors,
			ContinueOnError: c.opts.ContinueOnError,
		}
		if strings.TrimSpace(stderr) == "" || c.opts.ContinueOnError {
			// Left nil on failure: the decoder reports it as an empty result.
			req.Value, err = session.VariableAsJSON(learners.PredictionsVariable)
			if err != nil {
				if remote.IsTransportError(err) {
					return err
				}
				klog.V(1).Infof("classifier %s: reading predictions: %v", c.ref, err)
			}
		}
		batch, err = decode.New(req).Run()
		if err != nil {
			return err
		}
		return c.cleanupLocked(session)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "predicting %d rows with %s", data.NumRows(), c.opts.Learner)
	}
	return batch, nil
}

// EngineVersion returns the version (major.minor) of cuML in the remote environment. It is probed once
// and cached.
func (c *Classifier) EngineVersion() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engineVersion > 0 {
		return c.engineVersion, nil
	}
	var version float64
	err := c.withSession(func(session remote.Session) error {
		if err := c.runScript(session, "version", learners.VersionScript()); err != nil {
			return err
		}
		text, err := session.VariableAsText(learners.VersionVariable)
		if err != nil {
			return err
		}
		version, err = learners.ParseVersion(text)
		return err
	})
	if err != nil {
		return 0, errors.WithMessage(err, "probing cuML version")
	}
	c.engineVersion = version
	return version, nil
}

// EmptyClassMask returns which class values had no training rows, or nil if the class is numeric or
// the classifier isn't remotely trained.
func (c *Classifier) EmptyClassMask() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.fit.emptyClassMask)
}
