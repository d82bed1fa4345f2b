package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/crosswalk/server/internal/camera"
	"github.com/dpup/crosswalk/server/internal/clients/inference"
	"github.com/dpup/crosswalk/server/internal/lib/alerts"
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:5000", "Inference service base URL")
		image   = flag.String("image", "", "JPEG or PNG image to submit")
		width   = flag.Int("max-width", 640, "Resize the image to at most this width before upload")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *image == "" {
		fmt.Printf("Inference Test Tool\n\n")
		fmt.Printf("Submits one image to every detector and prints the alerts it would raise.\n\n")
		fmt.Printf("Usage: %s -image=street.jpg [options]\n\n", os.Args[0])
		flag.PrintDefaults()
		return
	}

	data, err := os.ReadFile(*image)
	if err != nil {
		log.Fatalf("Failed to read image: %v", err)
	}

	// Dimensions are only used for the empty-frame check
	frame := camera.Frame{Data: data, Width: 1, Height: 1, CapturedAt: time.Now()}
	payload, err := camera.NewEncoder(*width, 80).Encode(frame)
	if err != nil {
		log.Fatalf("Failed to encode image: %v", err)
	}
	fmt.Printf("Encoded %s: %d bytes -> %d bytes\n\n", *image, len(data), len(payload))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := inference.NewClient(*baseURL, inference.DefaultEndpoints(), 20*time.Second)
	dedup := alerts.NewDetectionDeduplicator(map[alerts.Category]alerts.CategoryPolicy{
		alerts.CategoryTrafficLight: {Policy: alerts.PolicyRepeat, Window: 3 * time.Second},
		alerts.CategoryVehicle:      {Policy: alerts.PolicyOnChange, Window: 3 * time.Second},
	}, 0.5)

	failed := false
	for _, result := range client.DetectAll(ctx, payload, nil) {
		fmt.Printf("%s (%s)\n", result.Category, result.Duration.Round(time.Millisecond))
		if result.Err != nil {
			fmt.Printf("  ❌ %v\n", result.Err)
			failed = true
			continue
		}
		for _, d := range result.Detections {
			fmt.Printf("  %-10s %.2f\n", d.Label, d.Confidence)
		}
		alert, decision := dedup.Observe(result.Category, result.Detections)
		if decision == alerts.DecisionFired {
			dedup.Commit(alert)
			fmt.Printf("  🔊 %q\n", alert.Phrase)
		} else {
			fmt.Printf("  (%s)\n", decision)
		}
	}

	if failed {
		os.Exit(1)
	}
}
