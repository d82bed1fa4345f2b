package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/clients/speech"
)

func main() {
	var (
		provider = flag.String("provider", "openai", "Speech backend: openai or http")
		baseURL  = flag.String("url", "http://localhost:5000", "Speech service base URL for the http provider")
		text     = flag.String("text", "Red light", "Text to synthesize")
		out      = flag.String("out", "", "Write the clip to this file instead of playing it")
		voice    = flag.String("voice", "alloy", "OpenAI voice")
	)
	flag.Parse()

	var synth speech.Synthesizer
	switch *provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			log.Fatal("OPENAI_API_KEY must be set for the openai provider")
		}
		synth = speech.NewOpenAISynthesizer(apiKey, "", *voice)
	case "http":
		synth = speech.NewClient(*baseURL, 15*time.Second)
	default:
		log.Fatalf("Unknown provider %q", *provider)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	clip, err := synth.Synthesize(ctx, *text)
	if err != nil {
		log.Fatalf("Synthesis failed: %v", err)
	}
	fmt.Printf("✅ Synthesized %q in %s: %d bytes of %s\n",
		*text, time.Since(start).Round(time.Millisecond), len(clip.Data), clip.ContentType)

	if *out != "" {
		if err := os.WriteFile(*out, clip.Data, 0o644); err != nil {
			log.Fatalf("Failed to write %s: %v", *out, err)
		}
		fmt.Printf("Wrote %s\n", *out)
		return
	}

	player, err := audio.NewExecPlayer(audio.DefaultPlayerCommand)
	if err != nil {
		log.Fatalf("Failed to create player: %v", err)
	}
	if err := player.Play(ctx, clip); err != nil {
		log.Fatalf("Playback failed: %v", err)
	}
}
