// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/config"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/logging"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/ops"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/radcal"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
)

const version = "0.3.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var configFile = flag.String("config", "radnorm.yaml", "load settings from YAML `file`, defaults apply if it does not exist")
var logFile = flag.String("log", "", "also save log output to `file`")
var logLevel = flag.String("logLevel", "info", "log level, one of debug, info, warn, error")
var memoryMB = flag.Int("memory", 0, "MiB of memory to use for block reads, 0=0.7x physical memory")
var workDir = flag.String("workDir", ".", "directory receiving the PIF file if none is given")
var outDir = flag.String("outDir", ".", "directory receiving the calibrated images")

var bands = flag.String("bands", "", "comma-separated 1-based `list` of bands to process, e.g. 1,2,3; empty for all bands")
var window = flag.String("window", "", "process the spatial subset `x0,y0,cols,rows` only; empty for the full extent")

var maxIter = flag.Int("maxIter", 100, "maximum number of IR-MAD iterations")
var tol = flag.Float64("tol", 0.001, "IR-MAD convergence tolerance on the largest change of canonical correlations")
var penalty = flag.Float64("penalty", 0, "regularization of the canonical correlation analysis in [0,1), 0=off")
var nodata = flag.String("nodata", "heuristic", "invalid pixel test, one of heuristic (non-positive band sums), value (dataset nodata and NaN), none (NaN only)")
var quicklook = flag.Bool("quicklook", false, "save a colour-coded change map as JPEG next to the PIF file")

var ncp = flag.Float64("ncp", 0.95, "no-change probability threshold for pseudo-invariant features, in [0,1)")
var fullScene = flag.String("fullScene", "", "also apply the calibration to the full scene in `file`")

func main() {
	logWriter := os.Stdout
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `radnorm Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (irmad|radcal|norm|job|config|legal|version) (args)

Commands:
  irmad  ref tgt [pif]              Detect change with IR-MAD and save MADs and chi-square as PIF file
  radcal ref tgt pif                Calibrate the target to the reference on pseudo-invariant features
  norm   ref tgt                    Run irmad followed by radcal
  job    job.json                   Run a JSON job file
  config [file]                     Write the effective settings as YAML to file or stdout
  legal                             Show license and attribution information
  version                           Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}
	switch args[0] {
	case "legal":
		cmdLegal()
		return
	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)
		return
	case "help", "?":
		flag.Usage()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
	if args[0] == "config" {
		if err := cmdConfig(cfg, args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
			os.Exit(1)
		}
		return
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	err = run(log, cfg, args)
	if err == nil {
		log.Infof("Done after %v", time.Since(start))
	}

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			log.Fatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		log.Errorf("Error: %s", err.Error())
		closer.Close()
		os.Exit(1)
	}
	closer.Close()
}

// Loads the config file and applies the flags set on the command line
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	var ferr error
	flag.Visit(func(f *flag.Flag) {
		if ferr != nil {
			return
		}
		switch f.Name {
		case "log":
			cfg.Logging.File = *logFile
			if *logFile != "" {
				cfg.Logging.Destination = logging.DestBoth
			} else {
				cfg.Logging.Destination = logging.DestStream
			}
		case "logLevel":
			cfg.Logging.Level = *logLevel
		case "memory":
			cfg.Processing.MemoryMB = *memoryMB
		case "workDir":
			cfg.Processing.WorkDir = *workDir
		case "bands":
			b, err := parseBands(*bands)
			ferr = err
			cfg.IRMAD.Bands, cfg.RadCal.Bands = b, b
		case "window":
			w, err := parseWindow(*window)
			ferr = err
			cfg.IRMAD.Window, cfg.RadCal.Window = w, w
		case "maxIter":
			cfg.IRMAD.MaxIterations = *maxIter
		case "tol":
			cfg.IRMAD.Tolerance = *tol
		case "penalty":
			cfg.IRMAD.Penalty = *penalty
		case "nodata":
			cfg.IRMAD.NoData = *nodata
		case "quicklook":
			cfg.IRMAD.Quicklook = *quicklook
		case "ncp":
			cfg.RadCal.NCPThreshold = *ncp
		}
		if ferr != nil {
			ferr = errors.Wrapf(ferr, "flag -%s", f.Name)
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Builds the operator for the given command line and applies it
func run(log *logrus.Logger, cfg *config.Config, args []string) error {
	op, err := buildJob(cfg, args)
	if err != nil {
		return err
	}

	c := ops.NewContext(log, cfg.Processing.MemoryMB)
	c.LogSystemInfo()
	log.Debugf("raster drivers %v", raster.Drivers())

	m, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return err
	}
	log.Infof("Running with these settings:\n%s", string(m))

	if err := op.Apply(c); err != nil {
		return err
	}
	for _, rep := range c.Reports {
		logReport(log, rep)
	}
	return nil
}

func buildJob(cfg *config.Config, args []string) (ops.Operator, error) {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "irmad":
		if len(args) < 2 || len(args) > 3 {
			return nil, errors.Errorf("%s needs reference and target files and an optional PIF file, got %d arguments", cmd, len(args))
		}
		pifFile := ""
		if len(args) == 3 {
			pifFile = args[2]
		}
		return newOpIRMAD(cfg, args[0], args[1], pifFile), nil

	case "radcal":
		if len(args) != 3 {
			return nil, errors.Errorf("%s needs reference, target and PIF files, got %d arguments", cmd, len(args))
		}
		return ops.NewOpRadCal(args[0], args[1], args[2], *fullScene, *outDir, cfg.RadCal), nil

	case "norm":
		if len(args) != 2 {
			return nil, errors.Errorf("%s needs reference and target files, got %d arguments", cmd, len(args))
		}
		return ops.NewOpSequence(
			newOpIRMAD(cfg, args[0], args[1], ""),
			ops.NewOpRadCal(args[0], args[1], "", *fullScene, *outDir, cfg.RadCal),
		), nil

	case "job":
		if len(args) != 1 {
			return nil, errors.Errorf("%s needs exactly one job file, got %d arguments", cmd, len(args))
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, errors.Wrap(err, "reading job file")
		}
		return ops.LoadJob(data)
	}
	return nil, errors.Errorf("unknown command '%s'", cmd)
}

func newOpIRMAD(cfg *config.Config, reference, target, pifFile string) *ops.OpIRMAD {
	op := ops.NewOpIRMAD(reference, target, cfg.Processing.WorkDir, pifFile, cfg.IRMAD.Options)
	op.Quicklook = cfg.IRMAD.Quicklook
	return op
}

func logReport(log *logrus.Logger, rep *radcal.Report) {
	log.Infof("%d pseudo-invariant features, %d for training, %d for testing", rep.PIFs, rep.Train, rep.Test)
	log.Infof("%4s %10s %10s %8s %10s %10s %10s %10s %8s %8s", "band", "slope", "intercept", "corr",
		"mean tgt", "mean ref", "t-stat", "p(t)", "F-stat", "p(F)")
	for _, br := range rep.Bands {
		log.Infof("%4d %10.5f %10.4f %8.5f %10.4f %10.4f %10.4f %10.4f %8.4f %8.4f", br.Band,
			br.Fit.Slope, br.Fit.Intercept, br.Fit.Correlation, br.MeanCalibrated, br.MeanReference,
			br.TTest.Statistic, br.TTest.P, br.FTest.Statistic, br.FTest.P)
	}
	if rep.Output != "" {
		log.Infof("calibrated target written to %s", rep.Output)
	}
	if rep.FullSceneOutput != "" {
		log.Infof("calibrated full scene written to %s", rep.FullSceneOutput)
	}
}

func cmdConfig(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		return config.SaveConfig(cfg, args[0])
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func cmdLegal() {
	fmt.Print(legal)
}
