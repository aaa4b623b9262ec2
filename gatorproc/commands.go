package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gator-daq/gatorproc/pkg/daqproc"
	"github.com/gator-daq/gatorproc/pkg/datasets"
	"github.com/gator-daq/gatorproc/pkg/dsp"
	"github.com/gator-daq/gatorproc/pkg/logging"
	"github.com/gator-daq/gatorproc/pkg/procfile"
	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/trigrate"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// RootOptions holds the global flags.
type RootOptions struct {
	Verbose bool

	// Store replaces the HDF5 artifact store (tests).
	Store procfile.Store
	// Opener replaces the raw file reader (tests).
	Opener rawfile.Opener
}

func NewRootCommand() *cobra.Command {
	return newRootWith(&RootOptions{})
}

func newRootWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gatorproc",
		Short:         "Process the waveforms written by the Gator DAQ",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging and configuration dump")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewOnceCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTrigRateCommand(opts))
	cmd.AddCommand(NewEventCommand(opts))
	cmd.AddCommand(NewDatasetsCommand(opts))
	return cmd
}

func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [config]",
		Short: "Scan the staging area every loop_sleep_sec until interrupted",
		Long: `Scan the staging area every loop_sleep_sec until interrupted.

Without an argument the configuration is read from $GATOR_DAQPROC_FILE or
$HOME/.local/etc/GatorDaqProc/config.json.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := setup(ctx, opts, args, cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			return env.processor.Run(ctx)
		},
	}
}

func NewOnceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once [config]",
		Short: "Scan the staging area once and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := setup(ctx, opts, args, cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			summary, err := env.processor.ProcTree(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config]",
		Short: "Check a configuration file and its channel map",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, filename, err := loadConfig(args)
			if err != nil {
				return err
			}
			if err := config.Validate(wfs.DefaultRegistry()); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is invalid:\n%v\n", filename, err)
				return fmt.Errorf("invalid configuration %s", filename)
			}
			if _, err := wfs.NewFileProcessor(config.ChsMap, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: channels %s, stages %s\n", filename,
				strings.Join(config.ChsMap.Names(), ", "), strings.Join(config.ChsMap.StageOrder(), ", "))
			return nil
		},
	}
}

func NewTrigRateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigrate <processed file> [config]",
		Short: "Compute the trigger rate of one processed file",
		Long: `Compute the trigger rate of one processed file with the TrigRate policy
of the configuration and print it as "<trig_timestamp> <rate> <error>".
Nothing is written to the state, the rate log or the rate database.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, _, err := loadConfig(args[1:])
			if err != nil {
				return err
			}
			if config.TrigRate == nil {
				return errors.New("the configuration has no TrigRate section")
			}
			store := opts.Store
			if store == nil {
				store = &procfile.HDF5Store{}
			}
			artifact, err := store.Load(args[0])
			if err != nil {
				return err
			}
			if artifact.Metadata == nil {
				return fmt.Errorf("%s has no DAQ metadata", args[0])
			}
			rec, err := trigrate.NewCalculator(*config.TrigRate).Compute(artifact.Table, trigrate.RunInfo{
				LiveTime:      artifact.Metadata.FileRunTime,
				SampFreq:      artifact.Metadata.SampFreq,
				WfsLength:     artifact.WfsLength,
				StartUnixTime: artifact.Metadata.StartUnixTime,
				StopUnixTime:  artifact.Metadata.StopUnixTime,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %v %v\n", rec.TrigTimestamp, rec.TrigRate, rec.RateErr)
			if opts.Verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "events: %d of %d, live time: %g s\n", rec.NAfterCuts, rec.NBeforeCuts, rec.LiveTime)
			}
			return nil
		},
	}
}

func NewEventCommand(opts *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "event <raw file> <index> [config]",
		Short: "Process one event of a raw file and print its waveforms",
		Long: `Process one event of a raw file with the channel map of the configuration
and print, per channel, the raw waveform and every waveform the stages
derive from it. With --json the samples are printed as well.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid event index %q: %w", args[1], err)
			}
			config, _, err := loadConfig(args[2:])
			if err != nil {
				return err
			}
			p, err := wfs.NewFileProcessor(config.ChsMap, nil, nil)
			if err != nil {
				return err
			}
			r, err := opener(opts, config)(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			raw, err := r.ReadEvents(config.ChsMap.Names())
			if err != nil {
				return err
			}
			derived, err := datasets.EventWaveforms(p, raw, index)
			if err != nil {
				return err
			}
			return printWaveforms(cmd.OutOrStdout(), derived, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the samples as JSON")
	return cmd
}

func printWaveforms(w io.Writer, derived wfs.Derived, asJSON bool) error {
	if asJSON {
		samples := make(map[string]map[string][]float64, len(derived))
		for ch, outputs := range derived {
			samples[ch] = make(map[string][]float64, len(outputs))
			for name, b := range outputs {
				samples[ch][name] = b.Data
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(samples)
	}
	for _, ch := range slices.Sorted(maps.Keys(derived)) {
		for _, name := range slices.Sorted(maps.Keys(derived[ch])) {
			data := derived[ch][name].Data
			if len(data) == 0 {
				fmt.Fprintf(w, "%s %s: no samples\n", ch, name)
				continue
			}
			pos := dsp.ArgMax(data)
			fmt.Fprintf(w, "%s %s: %d samples, max %g at %d\n", ch, name, len(data), data[pos], pos)
		}
	}
	return nil
}

func NewDatasetsCommand(opts *RootOptions) *cobra.Command {
	var configFile, out string
	cmd := &cobra.Command{
		Use:   "datasets <data dir> <dataset>...",
		Short: "Process whole datasets into one merged feature table",
		Long: `Process every raw file of <data dir>/<dataset> for each dataset into one
feature table. Rows carry datasetId, fileId and wfId columns pointing back
to the event; fileId numbers the files in the order they are listed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var configArgs []string
			if configFile != "" {
				configArgs = []string{configFile}
			}
			config, _, err := loadConfig(configArgs)
			if err != nil {
				return err
			}
			storage, err := datasets.NewStorage(args[0], config.ChsMap, opener(opts, config), nil)
			if err != nil {
				return err
			}
			storage.Extensions = config.FilesExt
			for _, name := range args[1:] {
				if _, err := storage.AddDataset(name); err != nil {
					return err
				}
			}
			table, err := storage.Merged(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, f := range storage.Files() {
				fmt.Fprintf(w, "%d %s %s\n", f.FileID, f.Dataset, f.Path)
			}
			fmt.Fprintf(w, "%d files, %d events, %d columns\n", len(storage.Files()), table.NRows(), table.NCols())
			if out == "" {
				return nil
			}
			store := opts.Store
			if store == nil {
				store = &procfile.HDF5Store{CompressionLevel: config.CompressionLevel}
			}
			return store.Save(out, &procfile.Artifact{
				Table:      table,
				SourceFile: strings.Join(storage.Datasets(), ","),
			})
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the merged table to this processed file")
	return cmd
}

func opener(opts *RootOptions, config daqproc.Configuration) rawfile.Opener {
	if opts.Opener != nil {
		return opts.Opener
	}
	return func(path string) (rawfile.Reader, error) {
		return rawfile.OpenDigitizer(path, config.Digitizer)
	}
}

func loadConfig(args []string) (daqproc.Configuration, string, error) {
	var filename string
	if len(args) > 0 {
		filename = args[0]
	} else {
		var err error
		if filename, err = daqproc.FindConfiguration(); err != nil {
			return daqproc.Configuration{}, "", err
		}
	}
	config, err := daqproc.LoadConfiguration(filename)
	if err != nil {
		return config, filename, fmt.Errorf("Error reading configuration file: %w", err)
	}
	return config, filename, nil
}

// environment is what run and once share: the processor and the resources
// it holds.
type environment struct {
	processor *daqproc.Processor
	closers   []io.Closer
}

func (e *environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i].Close())
	}
	return errors.Join(errs...)
}

func setup(ctx context.Context, opts *RootOptions, args []string, cmd *cobra.Command) (*environment, error) {
	config, filename, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		config.Logging.LogLevel = "debug"
	}
	logger, err := logging.New(config.Logging, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	env := &environment{closers: []io.Closer{logger}}

	if opts.Verbose || config.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading configuration file: %s", filename), "main")
		daqproc.PrintConfiguration(config, logger)
	}

	procOpts := []daqproc.Option{}
	if opts.Store != nil {
		procOpts = append(procOpts, daqproc.WithStore(opts.Store))
	}
	if opts.Opener != nil {
		procOpts = append(procOpts, daqproc.WithOpener(opts.Opener))
	}
	if config.RateDB != nil {
		db, err := trigrate.ConnectToDatabase(*config.RateDB)
		if err != nil {
			message := fmt.Errorf("Error connecting to the rate database: %w", err)
			logger.Error(message.Error())
			env.Close()
			return nil, message
		}
		sink, err := trigrate.NewDBSink(ctx, db)
		if err != nil {
			db.Close()
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, sink)
		procOpts = append(procOpts, daqproc.WithRateSink(sink))
	}

	env.processor, err = daqproc.NewProcessor(config, logger, procOpts...)
	if err != nil {
		logger.Error(err.Error())
		env.Close()
		return nil, err
	}
	return env, nil
}
