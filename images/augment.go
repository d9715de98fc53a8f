package images

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// AugmentConfig controls the random transforms applied to training images.
type AugmentConfig struct {
	// RotationDegrees is the maximum absolute rotation; the angle is drawn
	// uniformly from [-RotationDegrees, RotationDegrees].
	RotationDegrees float64 `json:"rotation_degrees" yaml:"rotation_degrees"`
	// CropScale is the [min, max] fraction of the image area kept by the random crop.
	CropScale [2]float64 `json:"crop_scale" yaml:"crop_scale"`
	// CropRatio is the [min, max] aspect ratio of the random crop.
	CropRatio [2]float64 `json:"crop_ratio" yaml:"crop_ratio"`
	// Brightness jitter; the factor is drawn from [1-Brightness, 1+Brightness].
	Brightness float64 `json:"brightness" yaml:"brightness"`
	// Contrast jitter; the factor is drawn from [1-Contrast, 1+Contrast].
	Contrast float64 `json:"contrast" yaml:"contrast"`
}

// DefaultAugmentConfig returns the light augmentation used for document photos.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		RotationDegrees: 5,
		CropScale:       [2]float64{0.9, 1.0},
		CropRatio:       [2]float64{3.0 / 4.0, 4.0 / 3.0},
		Brightness:      0.2,
		Contrast:        0.2,
	}
}

// Augmenter applies rotation, random resized crop and color jitter to
// images that were already resized to Size x Size.
type Augmenter struct {
	config AugmentConfig
	size   int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAugmenter creates an augmenter producing size x size images.
//
// Arguments:
//   - config: The augmentation parameters.
//   - size: The output edge length.
//   - rng: The random source; augmentation is reproducible for a fixed seed.
//
// Returns:
//   - *Augmenter: The augmenter.
func NewAugmenter(config AugmentConfig, size int, rng *rand.Rand) *Augmenter {
	return &Augmenter{config: config, size: size, rng: rng}
}

// Apply returns an augmented copy of img.
func (a *Augmenter) Apply(img image.Image) *image.RGBA {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := ToRGBA(img)
	if d := a.config.RotationDegrees; d > 0 {
		out = Rotate(out, uniform(a.rng, -d, d))
	}
	out = RandomResizedCrop(out, a.size, a.config.CropScale, a.config.CropRatio, a.rng)

	brightness := uniform(a.rng, math.Max(0, 1-a.config.Brightness), 1+a.config.Brightness)
	contrast := uniform(a.rng, math.Max(0, 1-a.config.Contrast), 1+a.config.Contrast)
	if a.rng.Intn(2) == 0 {
		out = AdjustContrast(AdjustBrightness(out, brightness), contrast)
	} else {
		out = AdjustBrightness(AdjustContrast(out, contrast), brightness)
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

// Rotate rotates img about its center by degrees, keeping the original size.
// Uncovered corners are filled with black.
//
// @example
// tilted := Rotate(page, 3.5)
func Rotate(img image.Image, degrees float64) *image.RGBA {
	src := ToRGBA(img)
	if degrees == 0 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.Black, image.Point{}, draw.Src)

	theta := degrees * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	s2d := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	xdraw.BiLinear.Transform(dst, s2d, src, b, xdraw.Over, nil)
	return dst
}

// RandomResizedCrop crops a random region covering scale[0]..scale[1] of the
// area with an aspect ratio in ratio[0]..ratio[1], then resizes it to
// size x size. After ten rejected draws the whole image is used.
func RandomResizedCrop(img image.Image, size int, scale, ratio [2]float64, rng *rand.Rand) *image.RGBA {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	area := float64(width * height)
	logLo, logHi := math.Log(ratio[0]), math.Log(ratio[1])

	for attempt := 0; attempt < 10; attempt++ {
		target := area * uniform(rng, scale[0], scale[1])
		aspect := math.Exp(uniform(rng, logLo, logHi))
		w := int(math.Round(math.Sqrt(target * aspect)))
		h := int(math.Round(math.Sqrt(target / aspect)))
		if w <= 0 || h <= 0 || w > width || h > height {
			continue
		}
		x := b.Min.X + rng.Intn(width-w+1)
		y := b.Min.Y + rng.Intn(height-h+1)
		return Resize(Crop(img, image.Rect(x, y, x+w, y+h)), size, size, BilinearFilter)
	}
	return Resize(img, size, size, BilinearFilter)
}

// Crop returns the part of img inside rect, clipped to the image bounds.
// The result shares pixels with img when the image supports SubImage.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// AdjustBrightness multiplies every channel by factor.
func AdjustBrightness(img *image.RGBA, factor float64) *image.RGBA {
	return mapChannels(img, func(v, _ float64) float64 { return v * factor }, 0)
}

// AdjustContrast blends every channel with the mean grayscale value:
// out = factor*v + (1-factor)*mean.
func AdjustContrast(img *image.RGBA, factor float64) *image.RGBA {
	return mapChannels(img, func(v, mean float64) float64 {
		return factor*v + (1-factor)*mean
	}, meanGray(img))
}

func mapChannels(img *image.RGBA, fn func(v, mean float64) float64, mean float64) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			dst.SetRGBA(x, y, color.RGBA{
				R: clamp8(fn(float64(c.R), mean)),
				G: clamp8(fn(float64(c.G), mean)),
				B: clamp8(fn(float64(c.B), mean)),
				A: 255,
			})
		}
	}
	return dst
}

// meanGray is the mean ITU-R 601 luma of the image.
func meanGray(img *image.RGBA) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			sum += 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		}
	}
	return sum / float64(n)
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
