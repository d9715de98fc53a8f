// Package preprocess converts decoded images into normalized float32 tensors
// laid out the way the classifier network expects them.
package preprocess

import (
	"image"
	"image/draw"
	"math"
	"strings"
	"sync"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/pkg/errors"
)

// Config describes the input a model expects. It is loaded from model
// metadata or the application config, so every field has a text form.
type Config struct {
	// Name of the model for debugging purposes.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// InputWidth is the expected width of the model input.
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the expected height of the model input.
	InputHeight int `json:"input_height" yaml:"input_height"`
	// InputChannels is 1 for grayscale and 3 otherwise.
	InputChannels int `json:"input_channels" yaml:"input_channels"`
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType `json:"normalization" yaml:"normalization"`
	// MeanValues for standardization, on the 0-255 scale.
	MeanValues []float32 `json:"mean,omitempty" yaml:"mean,omitempty"`
	// StdValues for standardization, on the 0-255 scale.
	StdValues []float32 `json:"std,omitempty" yaml:"std,omitempty"`
	ChannelOrder ChannelOrder `json:"channel_order" yaml:"channel_order"`
	ColorMode    ColorMode    `json:"color_mode" yaml:"color_mode"`
	// KeepAspectRatio scales the image to fit and pads the rest with
	// PadValue instead of stretching it.
	KeepAspectRatio bool  `json:"keep_aspect_ratio,omitempty" yaml:"keep_aspect_ratio,omitempty"`
	PadValue        uint8 `json:"pad_value,omitempty" yaml:"pad_value,omitempty"`
	// Filter is the resampling filter used to reach the input size.
	Filter images.ResampleFilter `json:"filter" yaml:"filter"`
}

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
	// NormalizeStandardize applies per-channel mean and std.
	NormalizeStandardize
)

var normalizationNames = []string{"none", "zero_to_one", "minus_one_to_one", "standardize"}

func (n NormalizationType) String() string { return enumName(normalizationNames, int(n)) }

// MarshalText implements encoding.TextMarshaler.
func (n NormalizationType) MarshalText() ([]byte, error) {
	return marshalEnum("normalization", normalizationNames, int(n))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NormalizationType) UnmarshalText(text []byte) error {
	v, err := parseEnum("normalization", normalizationNames, text)
	*n = NormalizationType(v)
	return err
}

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering.
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

var channelOrderNames = []string{"chw", "hwc"}

func (o ChannelOrder) String() string { return enumName(channelOrderNames, int(o)) }

// MarshalText implements encoding.TextMarshaler.
func (o ChannelOrder) MarshalText() ([]byte, error) {
	return marshalEnum("channel order", channelOrderNames, int(o))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *ChannelOrder) UnmarshalText(text []byte) error {
	v, err := parseEnum("channel order", channelOrderNames, text)
	*o = ChannelOrder(v)
	return err
}

// ColorMode defines the color space of the image.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR swaps the red and blue planes.
	ColorModeBGR
	// ColorModeGrayscale is single channel luminance.
	ColorModeGrayscale
)

var colorModeNames = []string{"rgb", "bgr", "grayscale"}

func (m ColorMode) String() string { return enumName(colorModeNames, int(m)) }

// MarshalText implements encoding.TextMarshaler.
func (m ColorMode) MarshalText() ([]byte, error) {
	return marshalEnum("color mode", colorModeNames, int(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ColorMode) UnmarshalText(text []byte) error {
	v, err := parseEnum("color mode", colorModeNames, text)
	*m = ColorMode(v)
	return err
}

func enumName(names []string, v int) string {
	if v < 0 || v >= len(names) {
		return "unknown"
	}
	return names[v]
}

func marshalEnum(kind string, names []string, v int) ([]byte, error) {
	if v < 0 || v >= len(names) {
		return nil, errors.Errorf("invalid %s %d", kind, v)
	}
	return []byte(names[v]), nil
}

func parseEnum(kind string, names []string, text []byte) (int, error) {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, errors.Errorf("unknown %s %q, expected one of %v", kind, s, names)
}

// ImageNetConfig returns the configuration used by ImageNet-pretrained
// backbones: a plain resize to size x size, CHW, RGB, ImageNet mean/std.
//
// @example
// config := ImageNetConfig(224)
// pipeline := NewEvalPipeline(config)
func ImageNetConfig(size int) *Config {
	return &Config{
		Name:              "imagenet",
		InputWidth:        size,
		InputHeight:       size,
		InputChannels:     3,
		NormalizationType: NormalizeStandardize,
		MeanValues:        []float32{123.675, 116.28, 103.53},
		StdValues:         []float32{58.395, 57.12, 57.375},
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeRGB,
		Filter:            images.BilinearFilter,
	}
}

// Validate checks that the configuration describes a tensor the
// preprocessor can produce.
func (c *Config) Validate() error {
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if int(c.ColorMode) < 0 || int(c.ColorMode) >= len(colorModeNames) {
		return errors.Errorf("invalid color mode %d", c.ColorMode)
	}
	if int(c.ChannelOrder) < 0 || int(c.ChannelOrder) >= len(channelOrderNames) {
		return errors.Errorf("invalid channel order %d", c.ChannelOrder)
	}
	want := 3
	if c.ColorMode == ColorModeGrayscale {
		want = 1
	}
	if c.InputChannels != want {
		return errors.Errorf("color mode %s needs %d channels, got %d", c.ColorMode, want, c.InputChannels)
	}
	switch c.NormalizationType {
	case NormalizeNone, NormalizeZeroToOne, NormalizeMinusOneToOne:
	case NormalizeStandardize:
		if len(c.MeanValues) != c.InputChannels || len(c.StdValues) != c.InputChannels {
			return errors.Errorf("standardize needs %d mean and std values, got %d and %d",
				c.InputChannels, len(c.MeanValues), len(c.StdValues))
		}
		for i, s := range c.StdValues {
			if s == 0 {
				return errors.Errorf("std value %d is zero", i)
			}
		}
	default:
		return errors.Errorf("invalid normalization %d", c.NormalizationType)
	}
	return nil
}

// Shape is the per-image tensor shape: [C, H, W] or [H, W, C].
func (c *Config) Shape() []int {
	if c.ChannelOrder == ChannelOrderHWC {
		return []int{c.InputHeight, c.InputWidth, c.InputChannels}
	}
	return []int{c.InputChannels, c.InputHeight, c.InputWidth}
}

// TensorSize is the number of float32 values produced per image.
func (c *Config) TensorSize() int {
	return c.InputChannels * c.InputHeight * c.InputWidth
}

// Preprocessor turns decoded images into tensors. It is stateless and
// safe for concurrent use.
type Preprocessor struct {
	config *Config
	// scale and shift fold normalization into one multiply-add per value.
	scale []float32
	shift []float32
}

// NewPreprocessor creates a preprocessor for a valid configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//
// @example
//
//	preprocessor := NewPreprocessor(ImageNetConfig(224))
func NewPreprocessor(config *Config) *Preprocessor {
	p := &Preprocessor{
		config: config,
		scale:  make([]float32, config.InputChannels),
		shift:  make([]float32, config.InputChannels),
	}
	for c := range p.scale {
		switch config.NormalizationType {
		case NormalizeZeroToOne:
			p.scale[c] = 1.0 / 255.0
		case NormalizeMinusOneToOne:
			p.scale[c], p.shift[c] = 1.0/127.5, -1
		case NormalizeStandardize:
			p.scale[c] = 1 / config.StdValues[c]
			p.shift[c] = -config.MeanValues[c] / config.StdValues[c]
		default:
			p.scale[c] = 1
		}
	}
	return p
}

// Config returns the preprocessing configuration.
func (p *Preprocessor) Config() Config {
	return *p.config
}

// TensorSize is the number of float32 values produced per image.
func (p *Preprocessor) TensorSize() int {
	return p.config.TensorSize()
}

// PreprocessImage converts a decoded image into a tensor of Config.Shape().
//
// @example
// tensor := preprocessor.PreprocessImage(img)
func (p *Preprocessor) PreprocessImage(img image.Image) []float32 {
	c := p.config
	rgba := p.fit(img)
	out := make([]float32, c.TensorSize())

	plane := c.InputWidth * c.InputHeight
	for y := 0; y < c.InputHeight; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < c.InputWidth; x++ {
			px := row[x*4 : x*4+3]
			for ch := 0; ch < c.InputChannels; ch++ {
				v := p.channelValue(px, ch)*p.scale[ch] + p.shift[ch]
				if c.ChannelOrder == ChannelOrderHWC {
					out[(y*c.InputWidth+x)*c.InputChannels+ch] = v
				} else {
					out[ch*plane+y*c.InputWidth+x] = v
				}
			}
		}
	}
	return out
}

// channelValue reads output channel ch from an RGB pixel on the 0-255
// scale.
func (p *Preprocessor) channelValue(px []uint8, ch int) float32 {
	switch p.config.ColorMode {
	case ColorModeGrayscale:
		return 0.299*float32(px[0]) + 0.587*float32(px[1]) + 0.114*float32(px[2])
	case ColorModeBGR:
		return float32(px[2-ch])
	default:
		return float32(px[ch])
	}
}

// fit brings img to the input size, either stretched or letterboxed.
func (p *Preprocessor) fit(img image.Image) *image.RGBA {
	c := p.config
	if !c.KeepAspectRatio {
		return images.Resize(img, c.InputWidth, c.InputHeight, c.Filter)
	}

	b := img.Bounds()
	scale := math.Min(float64(c.InputWidth)/float64(b.Dx()), float64(c.InputHeight)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	resized := images.Resize(img, w, h, c.Filter)

	canvas := image.NewRGBA(image.Rect(0, 0, c.InputWidth, c.InputHeight))
	for i := range canvas.Pix {
		canvas.Pix[i] = c.PadValue
		if i%4 == 3 {
			canvas.Pix[i] = 0xff
		}
	}
	left := (c.InputWidth - w) / 2
	top := (c.InputHeight - h) / 2
	draw.Draw(canvas, image.Rect(left, top, left+w, top+h), resized, image.Point{}, draw.Src)
	return canvas
}

// BatchPreprocess converts several images with at most maxConcurrency
// goroutines. Results keep the input order.
func (p *Preprocessor) BatchPreprocess(imgs []image.Image, maxConcurrency int) [][]float32 {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([][]float32, len(imgs))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, img := range imgs {
		wg.Add(1)
		go func(idx int, img image.Image) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = p.PreprocessImage(img)
		}(i, img)
	}

	wg.Wait()
	return results
}
