package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rlarsen/althing/internal/app"
)

var version = "dev"

// ANSI escape codes
const (
	reset  = "\033[0m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	bold   = "\033[1m"
)

func printBanner() {
	logo := []string{
		`    _    _ _   _     _             `,
		`   / \  | | |_| |__ (_)_ __   __ _ `,
		`  / _ \ | | __| '_ \| | '_ \ / _' |`,
		` / ___ \| | |_| | | | | | | | (_| |`,
		`/_/   \_\_|\__|_| |_|_|_| |_|\__, |`,
		`                             |___/ `,
	}
	fmt.Println()
	for _, line := range logo {
		fmt.Printf("  %s%s%s\n", cyan, line, reset)
	}
	fmt.Printf("  %slive exercise coordinator %s%s\n\n", bold, version, reset)
}

// envOr returns the environment variable value, falling back to def.
// Used for flag defaults so a .env file can configure the server.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// Missing .env is fine; flags and real env vars still apply
	_ = godotenv.Load()

	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", envOr("ALTHING_DB", "althing.db"), "SQLite database path")
	baseURL := flag.String("baseurl", envOr("ALTHING_BASE_URL", ""), "Externally reachable base URL for claim QR codes")
	password := flag.String("password", envOr("ALTHING_PASSWORD", ""), "Facilitator password (auto-generated if not set)")
	logLevel := flag.String("loglevel", envOr("ALTHING_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Althing - live exercise coordinator

Usage:
  althing [options]

Options:
  -port int      HTTP server port (default 8080)
  -db string     SQLite database path (default "althing.db")
  -baseurl str   Externally reachable base URL for claim QR codes
  -password str  Facilitator password (auto-generated if not set)
  -loglevel str  Log level: debug, info, warn, error (default "info")
  -version       Show version and exit
  -help          Show this help message

Environment (or .env file):
  ALTHING_DB, ALTHING_BASE_URL, ALTHING_PASSWORD, ALTHING_LOG_LEVEL

Examples:
  althing                              # Run on port 8080 with althing.db
  althing -port 80 -db /data/run.db    # Production example
  althing -baseurl http://10.0.0.5     # QR codes point at the LAN address
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("althing %s\n", version)
		os.Exit(0)
	}

	printBanner()

	base := *baseURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", *port)
	}

	a, err := app.New(app.Config{
		Addr:     fmt.Sprintf(":%d", *port),
		DBPath:   *dbPath,
		BaseURL:  base,
		Password: *password,
		LogLevel: *logLevel,
	})
	if err != nil {
		log.Fatal("Failed to initialize application:", err)
	}

	fmt.Printf("  Facilitator password: %s%s%s%s\n\n", bold, yellow, a.FacilitatorPassword(), reset)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatal(err)
		}
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			log.Fatal("Shutdown error:", err)
		}
	}
}
