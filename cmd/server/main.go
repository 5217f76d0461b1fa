package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// a missing .env is normal outside development
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
