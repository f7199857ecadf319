package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lensim/pkg/imsim"
	"lensim/pkg/render"
)

func (a *app) fitCmd() *cobra.Command {
	var panelDir string
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Solve the linear amplitudes of every band and report the likelihood",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.fit(panelDir)
		},
	}
	cmd.Flags().StringVar(&panelDir, "panels", "", "write data/model/residual JPEG panels to this directory")
	return cmd
}

func (a *app) fit(panelDir string) error {
	params, err := a.cfg.ModelParams()
	if err != nil {
		return err
	}
	o, err := a.orchestrator(true)
	if err != nil {
		return err
	}
	res, err := o.ImageLinearSolve(params, true)
	if err != nil {
		return err
	}
	logL, err := o.Likelihood(params, false)
	if err != nil {
		return err
	}
	margL, err := o.Likelihood(params, true)
	if err != nil {
		return err
	}

	a.heading("=== Linear fit ===")
	for i, band := range res.Bands {
		m := o.Models()[i]
		bandParams, err := o.BandParams(i, params)
		if err != nil {
			return err
		}
		numLinear, err := m.NumParamLinear(bandParams)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "  %-8s reduced chi2=%.4f  linear params=%d  amplitudes=%s\n",
			a.bandName(i), m.ReducedChi2(band), numLinear, formatFloats(band.LinearParams))
		for j, ps := range band.Params.PointSources {
			fmt.Fprintf(a.out, "           point-source set %d: %s\n", j, formatFloats(ps.Images.Amp))
		}
	}
	fmt.Fprintf(a.out, "  pixels:               %d\n", o.NumDataEvaluate())
	fmt.Fprintf(a.out, "  logL:                 %.4f\n", logL)
	fmt.Fprintf(a.out, "  logL (marginalized):  %.4f\n", margL)
	a.logger.Info("fit done", zap.Float64("logL", logL), zap.Float64("logL_marginalized", margL))

	if panelDir == "" {
		return nil
	}
	if err := os.MkdirAll(panelDir, 0o755); err != nil {
		return fmt.Errorf("creating panel directory: %w", err)
	}
	for i, band := range res.Bands {
		path := filepath.Join(panelDir, a.bandName(i)+"_fit.jpg")
		if err := a.writePanels(o.Models()[i], band, path); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "  panels: %s\n", path)
	}
	return nil
}

func (a *app) writePanels(m *imsim.Model, res *imsim.Result, path string) error {
	resid, err := m.Residuals(res)
	if err != nil {
		return err
	}
	grid := m.Data().Grid()
	var markers []render.Marker
	for _, ps := range res.Params.PointSources {
		for k := range ps.Images.RA {
			x, y := grid.MapCoordToPixel(ps.Images.RA[k], ps.Images.Dec[k])
			markers = append(markers, render.Marker{X: x, Y: y})
		}
	}
	panels := []render.Panel{
		{Title: "data", Image: m.Data().Image()},
		{Title: "model", Image: res.Model},
		{Title: "normalized residual", Image: resid, Residual: true},
	}
	summary := []string{fmt.Sprintf("reduced chi2 = %.4f   pixels = %d", m.ReducedChi2(res), m.NumDataEvaluate())}
	return render.WritePanels(panels, render.Options{Markers: markers, Summary: summary}, path)
}

func formatFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%.4g", f)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
