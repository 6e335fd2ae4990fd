package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	verifier "github.com/thenameisnigel/android-bootable-recovery"
	"github.com/thenameisnigel/android-bootable-recovery/progress"
)

// errExitFailure is returned after a verification that did not succeed, so
// main exits 1; the subcommand has already logged the structured "result"
// field, and SilenceErrors keeps cobra's default error printer from
// repeating it.
var errExitFailure = errors.New("verification failed")

type globalOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var opts globalOptions
	cmd := &cobra.Command{
		Use:           "verify-archive [command]",
		Short:         "Verify a recovery package's signature",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "verify-archive.yaml", "path to trusted-keyset config")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(fileCmd(&opts), jarCmd(&opts))
	return cmd
}

func fileCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "file <path>",
		Short: "Verify a whole-file RSA/SHA-1 signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			keys, err := loadKeySet(cfg)
			if err != nil {
				return err
			}

			sink := progress.SinkFunc(func(frac float64) {
				logrus.WithField("progress", frac).Debug("verifying")
			})
			res := verifier.VerifyFile(args[0], keys, sink)
			logrus.WithField("result", res).Info("whole-file verification finished")
			if res != verifier.Success {
				return errExitFailure
			}
			return nil
		},
	}
}

func jarCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jar <path>",
		Short: "Verify a JAR-style manifest signature chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			keys, err := loadKeySet(cfg)
			if err != nil {
				return err
			}

			r, err := verifier.OpenArchive(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			sink := progress.SinkFunc(func(frac float64) {
				logrus.WithField("progress", frac).Debug("verifying")
			})
			res := verifier.VerifyJARSignature(r, keys, sink)
			logrus.WithField("result", res).Info("jar verification finished")
			if res != verifier.Success {
				return errExitFailure
			}
			return nil
		},
	}
}
