package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Print the image positions and Fermat potentials of every point-source set",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.positions()
		},
	}
}

func (a *app) positions() error {
	params, err := a.cfg.ModelParams()
	if err != nil {
		return err
	}
	o, err := a.orchestrator(false)
	if err != nil {
		return err
	}
	ra, dec, err := o.ImagePositions(params.PointSources, params.Lens)
	if err != nil {
		return err
	}
	phi, err := o.FermatPotential(params.Lens, params.PointSources)
	if err != nil {
		return err
	}

	a.heading("=== Image positions ===")
	for i := range ra {
		fmt.Fprintf(a.out, "  set %d: %d images\n", i, len(ra[i]))
		for j := range ra[i] {
			mu := params.Lens.Magnification(ra[i][j], dec[i][j])
			fmt.Fprintf(a.out, "    %d  ra=%9.5f  dec=%9.5f  mu=%8.3f  fermat=%9.5f  dphi=%9.5f\n",
				j, ra[i][j], dec[i][j], mu, phi[i][j], phi[i][j]-phi[i][0])
		}
	}
	return nil
}
