// Command locate finds the band of a program sheet that holds a group label.
//
// Usage:
//
//	locate [flags] <image> <group>
//
// Pages that are not confidently program sheets are rejected with a notice
// and no OCR is run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvr-ai/doc-classifier/annotate"
	"github.com/nvr-ai/doc-classifier/config"
	"github.com/nvr-ai/doc-classifier/locator"
	"github.com/nvr-ai/doc-classifier/ocr/tesseract"
	"github.com/nvr-ai/doc-classifier/profiler"
	"github.com/pkg/errors"
)

func main() {
	var (
		configPath   string
		envFile      string
		checkpoint   string
		backend      string
		device       string
		threshold    float64
		languages    string
		psm          int
		padding      int
		dump         bool
		out          string
		annotatePath string
		stats        bool
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.StringVar(&envFile, "env", ".env", "Optional .env file with DOCCLASS_* overrides")
	flag.StringVar(&checkpoint, "checkpoint", "", "Checkpoint written by train (gorgonia backend)")
	flag.StringVar(&backend, "backend", "", "Classifier backend: gorgonia or onnx")
	flag.StringVar(&device, "device", "", "Device: cpu, cuda or auto")
	flag.Float64Var(&threshold, "threshold", 0, "Confidence the program label must exceed")
	flag.StringVar(&languages, "lang", "", "OCR languages, e.g. fra+eng")
	flag.IntVar(&psm, "psm", 0, "Tesseract page segmentation mode (0 keeps the default)")
	flag.IntVar(&padding, "padding", 0, "Pixels added above and below the band")
	flag.BoolVar(&dump, "dump", false, "Print the raw OCR word table")
	flag.StringVar(&out, "out", "", "Write the cropped band to this path")
	flag.StringVar(&annotatePath, "annotate", "", "Write the page with the band drawn on it")
	flag.BoolVar(&stats, "stats", false, "Log classify/ocr timings")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <image> <group>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	imagePath, group := flag.Arg(0), flag.Arg(1)

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "checkpoint":
			cfg.Inference.Checkpoint = checkpoint
		case "backend":
			cfg.Inference.Backend = backend
		case "device":
			cfg.Inference.Device = device
		case "threshold":
			cfg.Locator.Threshold = float32(threshold)
		case "lang":
			cfg.Locator.Languages = strings.Split(languages, "+")
		case "psm":
			cfg.Locator.PSM = psm
		case "padding":
			cfg.Locator.Padding = padding
		}
	})

	builder, err := cfg.Inference.Builder()
	if err != nil {
		log.Fatalf("Invalid inference config: %v", err)
	}
	clf, err := builder.Build()
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer clf.Close()

	prof := profiler.New(profiler.Options{})
	loc, err := locator.New(clf, tesseract.New(), cfg.Locator, locator.WithProfiler(prof))
	if err != nil {
		log.Fatalf("Failed to create locator: %v", err)
	}

	band, err := loc.Locate(context.Background(), imagePath, group)
	if errors.Is(err, locator.ErrNotProgram) {
		return
	}
	if err != nil {
		log.Fatalf("Failed to locate %q in %s: %v", group, imagePath, err)
	}

	if dump {
		if err := band.OCR.Dump(os.Stdout); err != nil {
			log.Fatalf("Failed to dump OCR result: %v", err)
		}
	}

	info, err := json.MarshalIndent(band.Info, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode band info: %v", err)
	}
	fmt.Println(string(info))

	if band.Info.Found {
		fmt.Printf("✅ band %v (row %d: %q)\n", band.Bounds, band.Info.RowIndex, band.Info.RowText)
		if out != "" {
			if err := writeBand(out, band); err != nil {
				log.Fatalf("Failed to write band: %v", err)
			}
		}
		if annotatePath != "" {
			caption := strings.Join(band.Info.Target, " ")
			if err := annotate.Band(imagePath, annotatePath, band.Bounds, caption, annotate.DefaultStyle()); err != nil {
				log.Fatalf("Failed to annotate: %v", err)
			}
		}
	}
	if stats {
		prof.Log()
	}
}

func writeBand(path string, band *locator.Band) error {
	if strings.ToLower(filepath.Ext(path)) != ".png" {
		return annotate.CropToFile(band.Info.ImagePath, path, band.Bounds)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := png.Encode(f, band.Image); err != nil {
		f.Close()
		return errors.Wrap(err, "encode band")
	}
	return f.Close()
}
