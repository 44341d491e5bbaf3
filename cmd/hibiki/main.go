package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bdobrica/hibiki/common/environment"
	"github.com/bdobrica/hibiki/common/version"
	"github.com/bdobrica/hibiki/internal/hibiki/app"
)

func main() {
	configPath := flag.String("config", environment.StringOr("HIBIKI_CONFIG", ""), "path to an optional YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	fmt.Printf("Hibiki Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hibiki, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Hibiki: %v\n", err)
		os.Exit(1)
	}
	defer hibiki.Stop()

	if err := hibiki.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Hibiki: %v\n", err)
		os.Exit(1)
	}
}
