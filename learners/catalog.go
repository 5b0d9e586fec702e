// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package learners holds the catalog of cuML learners and builds the scripts that train, predict with
// and clean up a learner in a remote session.
package learners

import (
	"regexp"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrInvalidDescriptor is returned when a Descriptor can't be used to build scripts, for instance when
// it is neither a classifier nor a regressor. It is always returned before any remote call.
var ErrInvalidDescriptor = errors.New("invalid learner descriptor")

// Descriptor describes one remote learner.
type Descriptor struct {
	// Name is the constructor name, e.g. "RandomForestClassifier".
	Name string

	// Module is the cuML module that exports the constructor, e.g. "ensemble".
	Module string

	// Classifier and Regressor tell which class types the learner supports.
	Classifier, Regressor bool

	// Probabilities is set if the learner's predict_proba is used for nominal classes.
	Probabilities bool

	// ReleaseAfterUse deletes the remote model after each train and predict call, to free device memory.
	// The model must then be re-materialized before each prediction.
	ReleaseAfterUse bool

	// DefaultOptions documents the constructor options and their defaults, in constructor syntax.
	DefaultOptions string
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate returns an error wrapping ErrInvalidDescriptor if d can't be used to build scripts.
func (d Descriptor) Validate() error {
	if !identifierRE.MatchString(d.Name) {
		return errors.WithMessagef(ErrInvalidDescriptor, "learner name %q is not an identifier", d.Name)
	}
	for _, part := range strings.Split(d.Module, ".") {
		if !identifierRE.MatchString(part) {
			return errors.WithMessagef(ErrInvalidDescriptor, "learner %s has invalid module %q", d.Name, d.Module)
		}
	}
	if !d.Classifier && !d.Regressor {
		return errors.WithMessagef(ErrInvalidDescriptor, "learner %s is neither a classifier nor a regressor", d.Name)
	}
	return nil
}

// DefaultLearner is the name of the learner used when none is configured.
const DefaultLearner = "RandomForestClassifier"

var catalog = []Descriptor{
	{Name: "LinearRegression", Module: "linear_model", Regressor: true,
		DefaultOptions: "algorithm='eig', fit_intercept=True, normalize=False, handle=None, verbose=False"},
	{Name: "LogisticRegression", Module: "linear_model", Classifier: true, Probabilities: true,
		DefaultOptions: "penalty='l2', tol=0.0001, C=1.0, fit_intercept=True, class_weight=None, " +
			"max_iter=1000, linesearch_max_iter=50, verbose=False, l1_ratio=None, solver='qn', " +
			"handle=None, output_type=None"},
	{Name: "Ridge", Module: "linear_model", Regressor: true,
		DefaultOptions: "alpha=1.0, solver='eig', fit_intercept=True, normalize=False, handle=None, " +
			"output_type=None, verbose=False"},
	{Name: "Lasso", Module: "linear_model", Regressor: true,
		DefaultOptions: "alpha=1.0, fit_intercept=True, normalize=False, max_iter=1000, tol=0.001, " +
			"selection='cyclic', handle=None, output_type=None, verbose=False"},
	{Name: "ElasticNet", Module: "linear_model", Regressor: true,
		DefaultOptions: "alpha=1.0, l1_ratio=0.5, fit_intercept=True, normalize=False, max_iter=1000, " +
			"tol=0.001, selection='cyclic', handle=None, output_type=None, verbose=False"},
	{Name: "MBSGDClassifier", Module: "linear_model", Classifier: true,
		DefaultOptions: "loss='hinge', penalty='l2', alpha=0.0001, l1_ratio=0.15, fit_intercept=True, " +
			"epochs=1000, tol=0.001, shuffle=True, learning_rate='constant', eta0=0.001, " +
			"power_t=0.5, batch_size=32, n_iter_no_change=5, handle=None, verbose=False, output_type=None"},
	{Name: "MBSGDRegressor", Module: "linear_model", Regressor: true,
		DefaultOptions: "loss='squared_loss', penalty='l2', alpha=0.0001, l1_ratio=0.15, fit_intercept=True, " +
			"epochs=1000, tol=0.001, shuffle=True, learning_rate='constant', eta0=0.001, " +
			"power_t=0.5, batch_size=32, n_iter_no_change=5, handle=None, verbose=False, output_type=None"},
	{Name: "MultinomialNB", Module: "naive_bayes", Classifier: true, Probabilities: true,
		DefaultOptions: "alpha=1.0, fit_prior=True, class_prior=None, output_type=None, handle=None, verbose=False"},
	{Name: "BernoulliNB", Module: "naive_bayes", Classifier: true, Probabilities: true,
		DefaultOptions: "alpha=1.0, binarize=0.0, fit_prior=True, class_prior=None, output_type=None, " +
			"handle=None, verbose=False"},
	{Name: "GaussianNB", Module: "naive_bayes", Classifier: true, Probabilities: true,
		DefaultOptions: "priors=None, var_smoothing=1e-09, output_type=None, handle=None, verbose=False"},
	{Name: "RandomForestClassifier", Module: "ensemble", Classifier: true, Probabilities: true,
		DefaultOptions: "n_estimators=100, split_criterion=0, bootstrap=True, max_samples=1.0, max_depth=16, " +
			"max_leaves=-1, max_features='auto', n_bins=128, n_streams=4, min_samples_leaf=1, " +
			"min_samples_split=2, min_impurity_decrease=0.0, max_batch_size=4096, random_state=None, " +
			"handle=None, verbose=False, output_type=None"},
	{Name: "RandomForestRegressor", Module: "ensemble", Regressor: true,
		DefaultOptions: "n_estimators=100, split_criterion=0, bootstrap=True, max_samples=1.0, max_depth=16, " +
			"max_leaves=-1, max_features='auto', n_bins=128, n_streams=4, min_samples_leaf=1, " +
			"min_samples_split=2, min_impurity_decrease=0.0, accuracy_metric='r2', max_batch_size=4096, " +
			"random_state=None, handle=None, verbose=False, output_type=None"},
	{Name: "SVC", Module: "svm", Classifier: true,
		DefaultOptions: "handle=None, C=1.0, kernel='rbf', degree=3, gamma='scale', coef0=0.0, tol=1e-3, " +
			"cache_size=1024.0, class_weight=None, multiclass_strategy='ovo', nochange_steps=1000, " +
			"output_type=None, probability=False, random_state=None, verbose=False"},
	{Name: "SVR", Module: "svm", Regressor: true,
		DefaultOptions: "handle=None, C=1.0, kernel='rbf', degree=3, gamma='scale', coef0=0.0, tol=1e-3, " +
			"epsilon=0.1, cache_size=1024.0, nochange_steps=1000, verbose=False, output_type=None"},
	{Name: "LinearSVC", Module: "svm", Classifier: true,
		DefaultOptions: "handle=None, penalty='l2', loss='squared_hinge', fit_intercept=True, " +
			"penalized_intercept=False, max_iter=1000, linesearch_max_iter=1000, lbfgs_memory=5, " +
			"verbose=False, C=1.0, grad_tol=0.0001, change_tol=1e-05, tol=None, probability=False, " +
			"multi_class=False, output_type=None"},
	{Name: "KNeighborsClassifier", Module: "neighbors", Classifier: true, Probabilities: true,
		DefaultOptions: "n_neighbors=5, algorithm='brute', metric='euclidean', weights='uniform', handle=None, " +
			"verbose=False, output_type=None"},
	{Name: "KNeighborsRegressor", Module: "neighbors", Regressor: true,
		DefaultOptions: "n_neighbors=5, algorithm='brute', metric='euclidean', weights='uniform', handle=None, " +
			"verbose=False, output_type=None"},
}

// Catalog returns a copy of all known learners, in display order.
func Catalog() []Descriptor {
	return append([]Descriptor(nil), catalog...)
}

// Names returns the names of all known learners, in display order.
func Names() []string {
	names := make([]string, len(catalog))
	for ii, d := range catalog {
		names[ii] = d.Name
	}
	return names
}

// Lookup returns the learner with the given name, ignoring case.
func Lookup(name string) (Descriptor, error) {
	name = strings.TrimSpace(name)
	for _, d := range catalog {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return Descriptor{}, errors.Errorf("unknown learner %q, valid learners are: %s", name, strings.Join(Names(), ", "))
}

// MustLookup is like Lookup, but panics (with exceptions.Panicf) if the learner is unknown.
func MustLookup(name string) Descriptor {
	d, err := Lookup(name)
	if err != nil {
		exceptions.Panicf("learners.MustLookup: %v", err)
	}
	return d
}
