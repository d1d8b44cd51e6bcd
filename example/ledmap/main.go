package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	slog "github.com/vearne/simplelog"

	executor "github.com/vearne/frameexecutor"
	"github.com/vearne/frameexecutor/config"
	"github.com/vearne/frameexecutor/ledmap"
)

/*
	Locates the lit LED in every frame of a directory.
	The directory holds base.png, taken with every LED off, and one image per lit LED.

	go run ./example/ledmap -frames ./frames -config ./framepool.yaml
*/

func main() {
	framesDir := flag.String("frames", "frames", "directory holding base.png and the lit frames")
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Fatal("%v", err)
	}

	base, err := imaging.Open(filepath.Join(*framesDir, "base.png"))
	if err != nil {
		slog.Fatal("%v", err)
	}
	width, height, raw := ledmap.Pixels(base)

	pool, err := executor.NewFramePool(context.Background(), ledmap.Factory,
		executor.NewConstructBootstrap(width, height, raw), cfg.Options()...)
	if err != nil {
		slog.Fatal("%v", err)
	}
	defer pool.WaitTerminate()

	entries, err := os.ReadDir(*framesDir)
	if err != nil {
		slog.Fatal("%v", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == "base.png" {
			continue
		}
		files = append(files, filepath.Join(*framesDir, e.Name()))
	}
	sort.Strings(files)

	futureList := make([]executor.Future, 0, len(files))
	for _, file := range files {
		img, err := imaging.Open(file)
		if err != nil {
			slog.Fatal("%v", err)
		}
		w, h, pix := ledmap.Pixels(img)
		f, err := pool.Submit(executor.Frame{Width: w, Height: h, Image: pix})
		if err != nil {
			slog.Fatal("%s: %v", file, err)
		}
		futureList = append(futureList, f)
	}

	for i, f := range futureList {
		result := f.Get()
		if result.Err != nil {
			fmt.Println(files[i], result.Err)
			continue
		}
		info, err := ledmap.DecodeFrameInfo(result.Image)
		if err != nil {
			slog.Fatal("%v", err)
		}
		if !info.Found {
			fmt.Println()
			continue
		}
		fmt.Printf("%d, %d, %d\n", info.X, info.Y, info.MaxBrightness)
	}
}
