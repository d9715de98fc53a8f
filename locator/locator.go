// Package locator finds the horizontal band of a program sheet that holds a
// given group label. A page is only read when the classifier says it is a
// program sheet with enough confidence.
package locator

import (
	"context"
	"image"
	"log"
	"strings"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/inference"
	"github.com/nvr-ai/doc-classifier/ocr"
	"github.com/nvr-ai/doc-classifier/profiler"
	"github.com/pkg/errors"
)

// ErrNotProgram is returned when the page is not confidently a program sheet.
// No OCR runs in that case.
var ErrNotProgram = errors.New("not a program sheet")

// Config tunes the gate and the band search.
type Config struct {
	// Label is the class that must be predicted.
	Label string `json:"label" yaml:"label"`
	// Threshold is the confidence the prediction must strictly exceed.
	Threshold float32 `json:"threshold" yaml:"threshold"`
	// Languages are the OCR languages.
	Languages []string `json:"languages" yaml:"languages"`
	// Keyword is prefixed to group names that do not start with it.
	Keyword string `json:"keyword" yaml:"keyword"`
	// Padding is added above and below the band, in pixels.
	Padding int `json:"padding" yaml:"padding"`
	// RowOverlap is the fraction of vertical overlap that merges two OCR
	// lines into one row.
	RowOverlap float64 `json:"row_overlap" yaml:"row_overlap"`
	// PSM is the tesseract page segmentation mode; zero keeps the default.
	PSM int `json:"psm" yaml:"psm"`
}

// DefaultConfig returns the settings used for the program sheets.
func DefaultConfig() Config {
	return Config{
		Label:      "program",
		Threshold:  0.7,
		Languages:  []string{"fra", "eng"},
		Keyword:    "GROUPE",
		Padding:    4,
		RowOverlap: 0.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Label == "" {
		return errors.New("label is required")
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		return errors.Errorf("threshold %v outside [0, 1)", c.Threshold)
	}
	if c.Padding < 0 {
		return errors.Errorf("padding %d is negative", c.Padding)
	}
	if c.RowOverlap <= 0 || c.RowOverlap > 1 {
		return errors.Errorf("row overlap %v outside (0, 1]", c.RowOverlap)
	}
	return nil
}

// Info describes a located band.
type Info struct {
	ImagePath  string   `json:"image_path"`
	Group      string   `json:"group"`
	Target     []string `json:"target"`
	Found      bool     `json:"found"`
	YCenter    int      `json:"y_center"`
	RowIndex   int      `json:"row_index"`
	RowText    string   `json:"row_text,omitempty"`
	Label      string   `json:"label"`
	Confidence float32  `json:"confidence"`
}

// Band is the located strip of the page. Image and Bounds are empty when the
// group was not found.
type Band struct {
	Image  image.Image
	Bounds image.Rectangle
	Info   Info
	// OCR is the raw recognition result the band was found in.
	OCR ocr.Result
	// Rows are the text rows of the page, top to bottom.
	Rows []Row
}

// Locator gates pages through a classifier and searches their OCR rows.
type Locator struct {
	classifier inference.Classifier
	engine     ocr.Engine
	config     Config
	logger     *log.Logger
	profiler   *profiler.Profiler
}

// Option configures a Locator.
type Option func(*Locator)

// WithLogger sets the logger used for the rejection notice.
func WithLogger(l *log.Logger) Option {
	return func(loc *Locator) { loc.logger = l }
}

// WithProfiler records "classify" and "ocr" timings.
func WithProfiler(p *profiler.Profiler) Option {
	return func(loc *Locator) { loc.profiler = p }
}

// New creates a Locator.
//
// Arguments:
//   - classifier: The program sheet classifier.
//   - engine: The OCR engine used on accepted pages.
//   - config: Gate and band settings.
//   - opts: Logger and profiler options.
//
// Returns:
//   - *Locator: The locator.
//   - error: When an argument is missing or the config is invalid.
func New(classifier inference.Classifier, engine ocr.Engine, config Config, opts ...Option) (*Locator, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if engine == nil {
		return nil, errors.New("ocr engine is required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid locator config")
	}
	loc := &Locator{classifier: classifier, engine: engine, config: config}
	for _, opt := range opts {
		opt(loc)
	}
	if loc.logger == nil {
		loc.logger = log.Default()
	}
	if loc.profiler == nil {
		loc.profiler = profiler.New(profiler.Options{Logger: loc.logger})
	}
	return loc, nil
}

// Accepts reports whether a prediction passes the gate: the configured label
// with a confidence strictly above the threshold.
func (l *Locator) Accepts(pred inference.Prediction) bool {
	return pred.Label == l.config.Label && pred.Confidence > l.config.Threshold
}

// Locate classifies the page at path and, for program sheets, finds the band
// holding group.
//
// Arguments:
//   - ctx: Cancels classification and OCR.
//   - path: The page image.
//   - group: The group name, with or without the keyword ("A", "Groupe A").
//
// Returns:
//   - *Band: The band; Info.Found is false and RowIndex is -1 when no row
//     matches.
//   - error: ErrNotProgram when the gate rejects the page, or a decoding,
//     classification or OCR error.
//
// @example
// band, err := loc.Locate(ctx, "scan.jpg", "A")
//
//	if errors.Is(err, locator.ErrNotProgram) {
//	    return
//	}
func (l *Locator) Locate(ctx context.Context, path, group string) (*Band, error) {
	target := TargetTokens(l.config.Keyword, group)
	if strings.TrimSpace(group) == "" || len(target) == 0 {
		return nil, errors.New("group is required")
	}

	encoded, img, err := images.Load(path)
	if err != nil {
		return nil, err
	}

	stop := l.profiler.StartOperation("classify")
	pred, err := l.classifier.PredictImage(ctx, img)
	stop()
	if err != nil {
		return nil, errors.Wrapf(err, "classify %s", path)
	}
	if !l.Accepts(pred) {
		l.logger.Printf("⚠️ %s is not a program sheet (label=%s confidence=%.3f), skipping", path, pred.Label, pred.Confidence)
		return nil, ErrNotProgram
	}

	opts := []ocr.InputOption{ocr.WithLanguages(l.config.Languages...)}
	if l.config.PSM > 0 {
		opts = append(opts, ocr.WithPSM(l.config.PSM))
	}
	stop = l.profiler.StartOperation("ocr")
	res, err := l.engine.Recognize(ctx, ocr.NewInput(path, encoded.Data, opts...))
	stop()
	if err != nil {
		return nil, errors.Wrapf(err, "%s ocr on %s", l.engine.Name(), path)
	}

	rows := Rows(res, l.config.RowOverlap)
	band := &Band{
		OCR:  res,
		Rows: rows,
		Info: Info{
			ImagePath:  path,
			Group:      group,
			Target:     target,
			RowIndex:   -1,
			Label:      pred.Label,
			Confidence: pred.Confidence,
		},
	}
	for i, row := range rows {
		if !matchTokens(row.tokens(), target) {
			continue
		}
		band.Bounds = bandBounds(rows, i, img.Bounds(), l.config.Padding)
		band.Image = images.Crop(img, band.Bounds)
		band.Info.Found = true
		band.Info.RowIndex = i
		band.Info.YCenter = row.YCenter()
		band.Info.RowText = row.Text()
		break
	}
	if !band.Info.Found {
		l.logger.Printf("⚠️ %s not found in %s (%d rows)", strings.Join(target, " "), path, len(rows))
	}
	return band, nil
}
