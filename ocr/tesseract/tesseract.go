// Package tesseract implements ocr.Engine with the gosseract client.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sort"
	"strings"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/ocr"
	"github.com/otiai10/gosseract/v2"
	"github.com/pkg/errors"
)

// Engine runs tesseract through a fresh gosseract client per call.
type Engine struct {
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed OCR engine.
func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

// Name returns "tesseract".
func (e *Engine) Name() string { return "tesseract" }

// Recognize performs OCR on a single image input and returns the words with
// their block, paragraph and line numbers.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	c := e.clientFactory()
	defer c.Close()

	data, offset, err := cropImage(in.Image, in.Region)
	if err != nil {
		return ocr.Result{}, err
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return ocr.Result{}, errors.Wrap(err, "set image")
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return ocr.Result{}, errors.Wrap(err, "set languages")
		}
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return ocr.Result{}, errors.Wrap(err, "set dpi")
		}
	}
	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.SetVariable(gosseract.SettableVariable(k), in.Metadata[k]); err != nil {
			return ocr.Result{}, errors.Wrapf(err, "set variable %s", k)
		}
	}

	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, errors.Wrap(err, "recognize text")
	}
	boxes, err := c.GetBoundingBoxesVerbose()
	if err != nil {
		return ocr.Result{}, errors.Wrap(err, "word boxes")
	}

	words := make([]ocr.Word, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		words = append(words, ocr.Word{
			Text:       strings.TrimSpace(b.Word),
			Bounds:     b.Box.Add(offset),
			Confidence: b.Confidence / 100.0,
			Block:      b.BlockNum,
			Paragraph:  b.ParNum,
			Line:       b.LineNum,
			Index:      b.WordNum,
		})
	}

	return ocr.Result{
		InputID:   in.ID,
		PlainText: strings.TrimSpace(text),
		Words:     words,
		Language:  strings.Join(in.Languages, "+"),
	}, nil
}

// cropImage re-encodes the region of interest and returns the offset that
// maps region coordinates back to the full image.
func cropImage(data []byte, region *ocr.Region) ([]byte, image.Point, error) {
	if region == nil || region.IsEmpty() {
		return data, image.Point{}, nil
	}
	img, _, err := images.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, errors.Wrap(err, "decode for region")
	}
	rect := region.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil, image.Point{}, errors.New("region outside image bounds")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, images.Crop(img, rect)); err != nil {
		return nil, image.Point{}, errors.Wrap(err, "encode cropped image")
	}
	return buf.Bytes(), rect.Min.Sub(img.Bounds().Min), nil
}
