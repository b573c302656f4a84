package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neoai/neoai/internal/common/config"
)

// runConfigCommand handles "neoai config init|show".
func runConfigCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: neoai config init [-path file] [-force] | neoai config show")
		return 2
	}
	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("config init", flag.ContinueOnError)
		path := fs.String("path", filepath.Join(config.DataDir(), "config.toml"), "where to write the config file")
		force := fs.Bool("force", false, "overwrite an existing file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if _, err := os.Stat(*path); err == nil && !*force {
			fmt.Fprintf(os.Stderr, "%s already exists (use -force to overwrite)\n", *path)
			return 1
		}
		if err := config.Save(*path, config.Defaults()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
			return 1
		}
		fmt.Println("wrote", *path)
		return 0
	case "show":
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			return 1
		}
		if err := config.Encode(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to print config: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(os.Stderr, "unknown config command %q\n", args[0])
	return 2
}
