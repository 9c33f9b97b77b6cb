package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/tiff"

	"volumerender/internal/models"
	"volumerender/pkg/config"
	"volumerender/pkg/engine"
	"volumerender/pkg/histogram"
	"volumerender/pkg/logging"
	"volumerender/pkg/preview"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volumerender.yaml", "Configuration file (defaults are used if missing)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	outputName := flag.String("output", "render.png", "Output image (.png, .tif or .jpg)")
	size := flag.Int("size", 512, "Output image width and height in pixels")
	method := flag.String("method", "", "Compositing method: dvr, mip, minip or average (overrides config)")
	quality := flag.Int("quality", 0, "Steps across the volume diagonal (overrides config)")
	preset := flag.String("preset", "", "Transfer function preset (overrides config)")
	phantomSize := flag.Int("phantom", 128, "Size of the synthetic head phantom in voxels")
	spacing := flag.Float64("spacing", 1.0, "Voxel spacing of the phantom in mm")
	distance := flag.Float64("distance", 2.5, "Camera distance from the volume centre")
	bins := flag.Int("histogram", 0, "Print an intensity histogram with this many bins")
	previewDir := flag.String("preview", "", "Directory to save the windowed z slices of the phantom")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *method != "" {
		cfg.Rendering.Method = *method
	}
	if *quality > 0 {
		cfg.Rendering.Quality = *quality
	}
	if *preset != "" {
		cfg.Transfer.Preset = *preset
	}
	logging.SetLogger(logging.NewTextLogger(cfg.Output.LogLevel))

	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("VOLUME RAY MARCHING RENDERER")
	fmt.Println("================================")

	// Build the dataset
	start := time.Now()
	ds, err := headPhantom(*phantomSize, *spacing)
	if err != nil {
		log.Fatalf("Failed to build phantom: %v", err)
	}
	if cfg.Output.Verbose {
		fmt.Printf("Phantom: %dx%dx%d voxels, %.1f mm spacing (%.2fs)\n",
			ds.Dimensions[0], ds.Dimensions[1], ds.Dimensions[2], *spacing, time.Since(start).Seconds())
	}

	eng, err := engine.New(opts)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer eng.Close()
	if err := eng.SetDataset(ds); err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}

	// Render
	ctx := context.Background()
	camera := models.DefaultCamera(models.Size{Width: *size, Height: *size}, float32(*distance))
	start = time.Now()
	out, err := eng.Render(ctx, engine.RenderRequest{Camera: camera})
	if err != nil {
		log.Fatalf("Render failed: %v", err)
	}
	elapsed := time.Since(start)

	if err := saveImage(out.Image, *outputName); err != nil {
		log.Fatalf("Failed to save image: %v", err)
	}

	fmt.Printf("\nRender completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Output image saved to: %s\n", *outputName)
	if out.Fallback {
		fmt.Println("Note: compute path unavailable, image is a slice preview")
	}

	if cfg.Output.Verbose {
		fmt.Println("\nRender details:")
		fmt.Printf("- Method: %v, %d steps\n", out.Method, out.Quality)
		fmt.Printf("- Sampling distance: %.3f mm\n", out.SamplingDistance)
		if !out.Fallback {
			fmt.Printf("- Kernel time: %v\n", out.Timing.Kernel)
			s := eng.Profiler().Summary()
			fmt.Printf("- Command buffers: %d (%d failed), mean GPU %v ± %v\n",
				s.Count, s.Failures, s.MeanGPU, s.StdGPU)
			fmt.Printf("- Dispatch benchmarks run: %d\n", eng.Optimizer().Benchmarks())
		}
	}

	if *bins > 0 {
		printHistogram(ctx, eng, ds, *bins)
	}

	// Save windowed slices if requested
	if *previewDir != "" {
		slicer, err := preview.NewSlicer(ds, eng.Params())
		if err != nil {
			log.Fatalf("Failed to create slicer: %v", err)
		}
		fmt.Printf("\nSaving z-axis slices to: %s\n", *previewDir)
		if err := slicer.SaveSliceSequence("z", *previewDir); err != nil {
			log.Printf("Warning: Failed to save slices: %v", err)
		}
	}
}

func printHistogram(ctx context.Context, eng *engine.Engine, ds *models.VolumeDataset, bins int) {
	desc := histogram.Descriptor{
		BinCount:  bins,
		Min:       float64(ds.Range.Min),
		Max:       float64(ds.Range.Max),
		Normalize: true,
	}
	counts, err := eng.Histogram(ctx, desc)
	if err != nil {
		log.Printf("Warning: Failed to compute histogram: %v", err)
		return
	}

	dividers := desc.Dividers()
	fmt.Println("\nIntensity histogram:")
	fmt.Println("====================")
	for i, c := range counts {
		bar := strings.Repeat("#", int(c*60+0.5))
		fmt.Printf("%7.0f .. %7.0f  %6.2f%%  %s\n", dividers[i], dividers[i+1], c*100, bar)
	}
}

// saveImage writes img in the format named by the file extension.
func saveImage(img image.Image, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".tif", ".tiff", ".jpg", ".jpeg":
	default:
		return fmt.Errorf("unsupported image format %q", ext)
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch ext {
	case ".tif", ".tiff":
		return tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}
