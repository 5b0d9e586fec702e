// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"encoding/gob"
	"io"
	"strings"

	"github.com/gomlx/rapidsml/learners"
	"github.com/gomlx/rapidsml/ml/filters"
	"github.com/gomlx/rapidsml/ml/zeror"
	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
)

// persistedState is what Save writes. The remote model itself is not included.
type persistedState struct {
	Version        int
	State          State
	Learner        string
	LearnerOptions string
	ModelRef       learners.ModelRef
	Description    string
	EmptyClassMask []bool
	Priors         []float64
	Schema         *dataset.Schema
	ZeroR          *zeror.Model
	ReplaceMissing *filters.ReplaceMissing
	NominalToBin   *filters.NominalToBinary
}

const persistedVersion = 1

// Save writes the state of the classifier to w, with encoding/gob.
//
// The remote model is not saved: a loaded classifier can only predict while its model is still bound
// in the remote session, otherwise Predict fails with ErrModelNotResident.
func (c *Classifier) Save(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := persistedState{
		Version:        persistedVersion,
		State:          c.fit.state,
		Learner:        c.opts.Learner,
		LearnerOptions: c.builder.Options(),
		ModelRef:       c.ref,
		Description:    c.fit.description,
		EmptyClassMask: c.fit.emptyClassMask,
		Priors:         c.fit.priors,
		Schema:         c.fit.schema,
		ZeroR:          c.fit.zeroR,
		ReplaceMissing: c.fit.replaceMissing,
		NominalToBin:   c.fit.nominalToBin,
	}
	if err := gob.NewEncoder(w).Encode(&st); err != nil {
		return errors.Wrapf(err, "saving classifier %s", c.ref)
	}
	return nil
}

// Load reads a classifier written by Save. The learner, its options and the model reference are taken
// from the saved state, everything else (environment, transfer strategy...) from opts.
func Load(r io.Reader, registry *remote.Registry, opts Options) (*Classifier, error) {
	var st persistedState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return nil, errors.Wrap(err, "loading classifier")
	}
	if st.Version != persistedVersion {
		return nil, errors.Errorf("loading classifier: unknown version %d", st.Version)
	}
	opts.Learner = st.Learner
	opts.LearnerOptions = st.LearnerOptions
	opts.Descriptor = nil
	c, err := New(registry, opts)
	if err != nil {
		return nil, errors.WithMessage(err, "loading classifier")
	}
	if !isModelRef(st.ModelRef) {
		return nil, errors.Errorf("loading classifier: invalid model reference %q", st.ModelRef)
	}
	c.ref = st.ModelRef
	c.fit = fitted{
		state:          st.State,
		description:    st.Description,
		schema:         st.Schema,
		emptyClassMask: st.EmptyClassMask,
		priors:         st.Priors,
		zeroR:          st.ZeroR,
		replaceMissing: st.ReplaceMissing,
		nominalToBin:   st.NominalToBin,
	}
	switch {
	case st.State == ZeroRFallback && st.ZeroR == nil:
		return nil, errors.New("loading classifier: ZeroR state without a ZeroR model")
	case st.State == RemoteTrained && (st.Schema == nil || st.ReplaceMissing == nil || st.NominalToBin == nil):
		return nil, errors.New("loading classifier: trained state without its fitted filters")
	}
	return c, nil
}

func isModelRef(ref learners.ModelRef) bool {
	hash, found := strings.CutPrefix(string(ref), learners.ModelPrefix)
	if !found || hash == "" {
		return false
	}
	for _, r := range hash {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_') {
			return false
		}
	}
	return true
}
