package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/source"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [input]",
		Short: "Check the configuration and optionally an input document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			w := cfg.Weighting
			out := cmd.OutOrStdout()
			mode := "observation"
			if w.ObservationFree() {
				mode = "perfect model"
			}
			fmt.Fprintf(out, "config ok: %s weighting, sigma_q %s, sigma_i %s\n",
				mode, formatSigma(w.SigmaQ), formatSigma(w.SigmaI))
			if p, ok := w.ShapeParameters(); ok {
				fmt.Fprintf(out, "calibration bypassed: weights use sigma_q %g, sigma_i %g\n", p.SigmaQ, p.SigmaI)
			}

			if len(args) == 0 {
				return nil
			}
			in, err := source.FileLoader{Path: args[0]}.Load(context.Background(), "")
			if err != nil {
				return err
			}
			members, err := in.Members()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "input ok: %d members of %d models, %d quality and %d independence diagnostics\n",
				len(members), len(ensemble.UniqueModels(members)), len(in.Quality), len(in.Independence))
			return nil
		},
	}
}
