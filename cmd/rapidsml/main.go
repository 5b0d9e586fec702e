// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// rapidsml trains, evaluates and cross-validates cuML learners on CSV files, running cuML in a Python
// server started on demand.
//
// Examples:
//
//	rapidsml -list
//	rapidsml -check -python /opt/conda/envs/rapids/bin/python
//	rapidsml -train weather.csv -class play -learner LogisticRegression -options "C=0.5"
//	rapidsml -train weather.csv -class play -folds 10 -parallel 2
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/rapidsml/config"
	"github.com/gomlx/rapidsml/learners"
	"github.com/gomlx/rapidsml/remote/pyserver"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML configuration file. Values are overridden by RAPIDSML_* "+
		"environment variables and then by the flags below.")
	flagDumpConfig = flag.Bool("dump_config", false, "Print the configuration in effect, as YAML, and exit.")

	flagLearner         = flag.String("learner", "", "Name of the cuML learner, see -list.")
	flagOptions         = flag.String("options", "", "Options passed verbatim to the learner's constructor.")
	flagStrategy        = flag.String("strategy", "", "How data is sent to Python: csv, arrow or shared (or 0, 1, 2).")
	flagPython          = flag.String("python", "", "Python interpreter to use, \"default\" for python on PATH.")
	flagServerID        = flag.String("server_id", "", "Id of the Python server, to use separate servers for the same interpreter.")
	flagContinueOnError = flag.Bool("continue_on_error", false, "Log errors printed by Python scripts instead of failing.")
	flagBatch           = flag.Int("batch", 0, "Number of rows per prediction call.")

	flagList  = flag.Bool("list", false, "List the available learners.")
	flagCheck = flag.Bool("check", false, "Check the Python environment and print a report.")

	flagTrain    = flag.String("train", "", "CSV file with the training data.")
	flagClass    = flag.String("class", "", "Name of the class column, required with -train.")
	flagTest     = flag.String("test", "", "CSV file to evaluate on. Defaults to the training file.")
	flagNominal  = flag.String("nominal", "", "Comma-separated columns to read as nominal even if they hold numbers.")
	flagDates    = flag.String("dates", "", "Comma-separated columns to read as dates.")
	flagFolds    = flag.Int("folds", 0, "If > 1, cross-validate with this number of folds instead of evaluating on -test.")
	flagParallel = flag.Int("parallel", 1, "Maximum number of folds trained at the same time, each on its own Python server.")
	flagSeed     = flag.Int64("seed", 1, "Seed used to shuffle rows into folds.")
	flagSave     = flag.String("save", "", "Save the trained classifier to this file.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'rapidsml -help'.", flag.Args())
		os.Exit(1)
	}
	err := exceptions.TryCatch[error](run)
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

// run panics on errors, main converts them back.
func run() {
	if *flagList {
		printCatalog()
		return
	}

	cfg := must.M1(loadConfig())
	if *flagDumpConfig {
		fmt.Print(string(must.M1(cfg.Marshal())))
		return
	}
	if *flagCheck {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.StartTimeout)
		defer cancel()
		report := pyserver.CheckEnvironment(ctx, cfg.Handle(), cfg.ServerOptions())
		fmt.Println(report.String())
		if !report.OK() {
			panic(errors.WithMessage(report.Err, "environment check failed"))
		}
		return
	}
	if *flagTrain == "" {
		exceptions.Panicf("nothing to do: use -list, -check or -train. See 'rapidsml -help'")
	}

	registry := cfg.Registry()
	defer func() {
		if err := registry.Close(); err != nil {
			klog.Warningf("closing Python servers: %+v", err)
		}
	}()
	if *flagFolds > 1 {
		crossValidate(cfg, registry)
	} else {
		trainAndEvaluate(cfg, registry)
	}
}

// loadConfig loads the configuration file, and applies the flags that were explicitly set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		return nil, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "learner":
			cfg.Learner.Name = *flagLearner
		case "options":
			cfg.Learner.Options = *flagOptions
		case "strategy":
			cfg.Transfer.Strategy = *flagStrategy
		case "python":
			cfg.Python.Command = *flagPython
		case "server_id":
			cfg.Python.ServerID = *flagServerID
		case "continue_on_error":
			cfg.ContinueOnError = *flagContinueOnError
		case "batch":
			cfg.BatchSize = *flagBatch
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printCatalog() {
	fmt.Println(titleStyle.Render("cuML learners"))
	table := newPlainTable(true)
	table.Headers("Name", "Module", "Classification", "Regression", "Probabilities")
	for _, d := range learners.Catalog() {
		name := d.Name
		if name == learners.DefaultLearner {
			name += " (default)"
		}
		table.Row(name, d.Module, yesNo(d.Classifier), yesNo(d.Regressor), yesNo(d.Probabilities))
	}
	fmt.Println(table.Render())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
