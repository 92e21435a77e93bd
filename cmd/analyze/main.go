// Command analyze runs a single flood risk analysis with the service
// configuration and prints the assessment as JSON.
//
// Usage:
//
//	go run ./cmd/analyze -lat 29.9511 -lon -90.0715
//	go run ./cmd/analyze -image terrain.jpg
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/flood-risk-service/internal/app"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	lat := flag.Float64("lat", 0, "latitude in decimal degrees")
	lon := flag.Float64("lon", 0, "longitude in decimal degrees")
	image := flag.String("image", "", "path to a PNG or JPEG terrain image")
	flag.Parse()

	if err := run(*lat, *lon, *image, isSet("lat"), isSet("lon")); err != nil {
		fmt.Fprintln(os.Stderr, "analyze:", err)
		os.Exit(1)
	}
}

func run(lat, lon float64, imagePath string, hasLat, hasLon bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Logs go to stderr so stdout carries only the assessment.
	logger := observability.NewLoggerTo(os.Stderr, cfg)
	metrics := observability.NewMetricsForTesting()

	a, err := app.Build(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := rawInput(lat, lon, imagePath, hasLat, hasLon)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = pipeline.WithRequestID(ctx, uuid.NewString())

	assessment, err := a.Pipeline.Analyze(ctx, raw)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(assessment)
}

func rawInput(lat, lon float64, imagePath string, hasLat, hasLon bool) (domain.RawInput, error) {
	var raw domain.RawInput
	if hasLat || hasLon {
		coords := &domain.RawCoordinates{}
		if hasLat {
			coords.Latitude = &lat
		}
		if hasLon {
			coords.Longitude = &lon
		}
		raw.Coordinates = coords
	}
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return raw, fmt.Errorf("read image: %w", err)
		}
		raw.Image = &domain.RawImage{Data: data, Filename: imagePath}
	}
	return raw, nil
}

func isSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
