package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	slog "github.com/vearne/simplelog"

	executor "github.com/vearne/frameexecutor"
	"github.com/vearne/frameexecutor/ledmap"
	promobs "github.com/vearne/frameexecutor/observability/prometheus"
)

/*
	Pushes synthetic frames through a FramePool as fast as the pool drains them.
	The producer waits on Drain() whenever more than one frame is queued.
*/

const (
	width  = 160
	height = 120
)

func frameWithLight(x, y int) []byte {
	img := imaging.New(width, height, color.NRGBA{A: 255})
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			img.Set(x+dx, y+dy, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	_, _, pix := ledmap.Pixels(img)
	return pix
}

func main() {
	frames := flag.Int("n", 200, "number of frames")
	concurrency := flag.Int("c", 4, "executors")
	flag.Parse()

	registry := prometheus.NewRegistry()
	observer := promobs.NewObserver(registry)

	_, _, base := ledmap.Pixels(image.NewNRGBA(image.Rect(0, 0, width, height)))
	pool, err := executor.NewFramePool(context.Background(), ledmap.Factory,
		executor.NewConstructBootstrap(width, height, base),
		executor.WithConcurrency(*concurrency),
		executor.WithReplyTimeout(10*time.Second),
		executor.WithObserver(observer),
	)
	if err != nil {
		slog.Fatal("%v", err)
	}

	start := time.Now()
	futureList := make([]executor.Future, 0, *frames)
	for i := 0; i < *frames; i++ {
		<-pool.Drain()
		f, err := pool.Submit(executor.Frame{
			Width:  width,
			Height: height,
			Image:  frameWithLight(10+i%(width-20), 10+i%(height-20)),
		})
		if err != nil {
			slog.Fatal("%v", err)
		}
		futureList = append(futureList, f)
	}

	failed := 0
	for _, f := range futureList {
		if f.Get().Err != nil {
			failed++
		}
	}
	stats := pool.Stats()
	pool.WaitTerminate()

	fmt.Printf("frames:%d failed:%d elapsed:%v executors:%d constructs:%d\n",
		len(futureList), failed, time.Since(start), stats.Spawned, stats.Constructs)

	families, err := registry.Gather()
	if err != nil {
		slog.Fatal("%v", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Println(mf.GetName(), labels(m.GetLabel()), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Println(mf.GetName(), labels(m.GetLabel()), m.GetGauge().GetValue())
			}
		}
	}
}

func labels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
