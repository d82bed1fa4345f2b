package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/crosswalk/server/internal/clients/directions"
	"github.com/dpup/crosswalk/server/internal/lib/geo"
	"github.com/dpup/crosswalk/server/internal/lib/routing"
)

func main() {
	var (
		apiKey    = flag.String("api-key", "", "Google Maps API key (or set GOOGLE_MAPS_API_KEY env var)")
		originStr = flag.String("origin", "40.758000,-73.985500", "Origin coordinates (lat,lng)")
		dest      = flag.String("dest", "Central Park, New York", "Free-text destination")
		kmlOut    = flag.String("kml", "", "Write the route geometry to this KML file")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Directions Test Tool\n\n")
		fmt.Printf("Requests a walking route and prints the instruction that would be spoken.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_KEY\n", os.Args[0])
		fmt.Printf("  %s -origin=\"37.7749,-122.4194\" -dest=\"Ferry Building\" -kml=route.kml\n", os.Args[0])
		return
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("GOOGLE_MAPS_API_KEY")
	}
	if key == "" {
		log.Fatal("Google Maps API key required. Use -api-key flag or GOOGLE_MAPS_API_KEY env var")
	}

	var lat, lng float64
	if _, err := fmt.Sscanf(*originStr, "%f,%f", &lat, &lng); err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	origin := geo.NewLocation(lat, lng, time.Now())

	fmt.Printf("Directions Test\n")
	fmt.Printf("===============\n")
	fmt.Printf("Origin: %s\n", origin.Point)
	fmt.Printf("Destination: %s\n\n", *dest)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := directions.NewClient(key)
	route, err := client.Route(ctx, routing.RouteRequest{Origin: origin, DestinationText: *dest})
	if err != nil {
		log.Fatalf("Route failed: %v", err)
	}

	fmt.Printf("✅ Route: %s (%d steps)\n", route.Summary, route.StepCount())
	if len(route.Legs) > 0 {
		leg := route.Legs[0]
		fmt.Printf("Distance: %.2f km\n", float64(leg.DistanceMeters)/1000.0)
		fmt.Printf("Duration: %.1f minutes\n", float64(leg.DurationSeconds)/60.0)
		for i, step := range leg.Steps {
			fmt.Printf("  %2d. %s (%dm)\n", i+1, step.Instruction, step.DistanceMeters)
		}
	}

	if instruction, ok := routing.ExtractInstruction(route); ok {
		fmt.Printf("\nWould speak: %q\n", instruction)
	} else {
		fmt.Printf("\nRoute has no steps, nothing would be spoken\n")
	}

	if *kmlOut != "" {
		f, err := os.Create(*kmlOut)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *kmlOut, err)
		}
		defer f.Close()
		if err := routing.WriteKML(f, *dest, origin.Point, route); err != nil {
			log.Fatalf("Failed to write KML: %v", err)
		}
		fmt.Printf("Wrote %s\n", *kmlOut)
	}
}
