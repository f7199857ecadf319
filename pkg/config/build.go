package config

import (
	"fmt"
	"strings"

	"lensim/pkg/imaging"
	"lensim/pkg/imsim"
	"lensim/pkg/lens"
	"lensim/pkg/light"
	"lensim/pkg/multiband"
	"lensim/pkg/pointsource"
	"lensim/pkg/psf"
)

func (c Component) required(key string) (float64, error) {
	v, ok := c.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s needs %q", ErrMissingParam, c.Type, key)
	}
	return v, nil
}

// optional returns the parameter or zero.
func (c Component) optional(key string) float64 { return c.Params[key] }

// LensProfile converts a SIS, POINT_MASS or SHEAR component.
func (c Component) LensProfile() (lens.Profile, error) {
	switch strings.ToUpper(c.Type) {
	case "SIS":
		thetaE, err := c.required("theta_e")
		if err != nil {
			return nil, err
		}
		return lens.SIS{ThetaE: thetaE, CenterX: c.optional("center_x"), CenterY: c.optional("center_y")}, nil
	case "POINT_MASS":
		thetaE, err := c.required("theta_e")
		if err != nil {
			return nil, err
		}
		return lens.PointMass{ThetaE: thetaE, CenterX: c.optional("center_x"), CenterY: c.optional("center_y")}, nil
	case "SHEAR":
		return lens.Shear{Gamma1: c.optional("gamma1"), Gamma2: c.optional("gamma2")}, nil
	default:
		return nil, fmt.Errorf("%w: lens %q", ErrUnknownType, c.Type)
	}
}

// LightProfile converts a GAUSSIAN, SERSIC or SERSIC_ELLIPSE component.
// The amplitude defaults to 1 and is replaced by the linear solve.
func (c Component) LightProfile() (light.Profile, error) {
	amp := 1.0
	if v, ok := c.Params["amp"]; ok {
		amp = v
	}
	switch strings.ToUpper(c.Type) {
	case "GAUSSIAN":
		sigma, err := c.required("sigma")
		if err != nil {
			return nil, err
		}
		return light.Gaussian{Amp: amp, Sigma: sigma, CenterX: c.optional("center_x"), CenterY: c.optional("center_y")}, nil
	case "SERSIC", "SERSIC_ELLIPSE":
		r, err := c.required("r_sersic")
		if err != nil {
			return nil, err
		}
		n, err := c.required("n_sersic")
		if err != nil {
			return nil, err
		}
		s := light.Sersic{Amp: amp, RSersic: r, NSersic: n, CenterX: c.optional("center_x"), CenterY: c.optional("center_y")}
		if strings.ToUpper(c.Type) == "SERSIC_ELLIPSE" {
			s.E1, s.E2 = c.optional("e1"), c.optional("e2")
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: light %q", ErrUnknownType, c.Type)
	}
}

func (c *Config) LensParams() (lens.Params, error) {
	out := make(lens.Params, 0, len(c.Lens))
	for i, comp := range c.Lens {
		p, err := comp.LensProfile()
		if err != nil {
			return nil, fmt.Errorf("lens %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func lightParams(comps []Component) (light.Params, error) {
	out := make(light.Params, 0, len(comps))
	for i, comp := range comps {
		p, err := comp.LightProfile()
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// PointSourceOptions returns the engine options of every set.
func (c *Config) PointSourceOptions() []pointsource.Options {
	out := make([]pointsource.Options, len(c.PointSources))
	for i, ps := range c.PointSources {
		out[i] = pointsource.Options{FixedMagnification: ps.FixedMagnification, FixErrorMap: ps.FixErrorMap}
	}
	return out
}

// ModelParams assembles the parameters of all components.
func (c *Config) ModelParams() (imsim.Params, error) {
	var p imsim.Params
	var err error
	if p.Lens, err = c.LensParams(); err != nil {
		return imsim.Params{}, err
	}
	if p.Source, err = lightParams(c.Source); err != nil {
		return imsim.Params{}, fmt.Errorf("source: %w", err)
	}
	if p.LensLight, err = lightParams(c.LensLight); err != nil {
		return imsim.Params{}, fmt.Errorf("lens light: %w", err)
	}
	for _, ps := range c.PointSources {
		p.PointSources = append(p.PointSources, pointsource.Source{
			Images:         pointsource.Params{RA: ps.RA, Dec: ps.Dec, Amp: ps.Amp},
			SourcePosition: ps.SourcePosition,
			SourceRA:       ps.SourceRA,
			SourceDec:      ps.SourceDec,
			SourceAmp:      ps.SourceAmp,
		})
	}
	return p, nil
}

// Grid builds the centred pixel grid of the band.
func (b BandConfig) Grid() (*imaging.Grid, error) {
	return imaging.NewCenteredGrid(b.NumPix, b.DeltaPix)
}

const defaultMinRSquared = 0.9

// BuildPSF reads the kernel file or builds a Gaussian kernel.
func (c *Config) BuildPSF(b BandConfig) (*psf.PSF, error) {
	var p *psf.PSF
	if b.PSF.Kernel != "" {
		f, err := imaging.ReadFits(c.resolve(b.PSF.Kernel))
		if err != nil {
			return nil, fmt.Errorf("config: psf kernel: %w", err)
		}
		if p, err = psf.New(f.Mat(), imaging.Mat{}); err != nil {
			return nil, err
		}
	} else if b.PSF.Star != "" {
		f, err := imaging.ReadFits(c.resolve(b.PSF.Star))
		if err != nil {
			return nil, fmt.Errorf("config: psf star: %w", err)
		}
		minR2 := b.PSF.MinRSquared
		if minR2 <= 0 {
			minR2 = defaultMinRSquared
		}
		if p, _, err = psf.FromStar(f.Mat(), b.DeltaPix, b.PSF.Size, minR2); err != nil {
			return nil, fmt.Errorf("config: psf star: %w", err)
		}
	} else {
		var err error
		if p, err = psf.NewGaussian(b.PSF.FWHM, b.DeltaPix, b.PSF.Size); err != nil {
			return nil, err
		}
	}
	if b.PSF.RelativeError > 0 {
		return p.WithRelativeError(b.PSF.RelativeError)
	}
	return p, nil
}

// Background noise estimation on data files without a BKGRMS header.
const (
	noiseClipping      = 4.0
	noiseAllowedError  = 1e-5
	noiseMaxIterations = 5
)

// BuildDataset binds the band's data. Without withData, or when no data file
// is configured, the dataset holds an empty image. A zero background_rms is
// taken from the data file: its BKGRMS header, else a kappa-sigma estimate
// of the pixel noise.
func (c *Config) BuildDataset(b BandConfig, withData bool) (*imaging.Dataset, error) {
	grid, err := b.Grid()
	if err != nil {
		return nil, err
	}
	rms := b.BackgroundRMS
	var data []float64
	if withData && b.Data != "" {
		f, err := imaging.ReadFits(c.resolve(b.Data))
		if err != nil {
			return nil, fmt.Errorf("config: band data: %w", err)
		}
		if data, err = grid.Image2Array(f.Mat()); err != nil {
			return nil, err
		}
		if rms == 0 {
			rms = backgroundRMS(f)
		}
	}
	if rms <= 0 {
		return nil, fmt.Errorf("%w: background_rms is not set and no data to estimate it from", ErrInvalidBand)
	}
	return imaging.NewDataset(grid, data, b.ExposureTime, rms, nil)
}

func backgroundRMS(f *imaging.FitsImage) float64 {
	if v, ok := f.Metadata.BackgroundRMS(); ok && v > 0 {
		return v
	}
	return imaging.KappaSigmaNoiseEstimate(f.Pixels, noiseClipping, noiseAllowedError, noiseMaxIterations).Sigma
}

// BuildBands constructs every band, reading data files when withData is set.
func (c *Config) BuildBands(withData bool) ([]multiband.Band, error) {
	out := make([]multiband.Band, 0, len(c.Bands))
	for i, b := range c.Bands {
		data, err := c.BuildDataset(b, withData)
		if err != nil {
			return nil, fmt.Errorf("band %d (%s): %w", i, b.Name, err)
		}
		p, err := c.BuildPSF(b)
		if err != nil {
			return nil, fmt.Errorf("band %d (%s): %w", i, b.Name, err)
		}
		out = append(out, multiband.Band{
			Name: b.Name,
			Data: data,
			PSF:  p,
			Selection: multiband.Selection{
				SourceIndices:    b.SourceIndices,
				LensLightIndices: b.LensLightIndices,
			},
		})
	}
	return out, nil
}

// DataPath returns the resolved data path of band i.
func (c *Config) DataPath(i int) string { return c.resolve(c.Bands[i].Data) }
