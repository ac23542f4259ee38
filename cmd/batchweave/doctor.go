package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "machine-readable output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var cfgPtr *config.Config
	cfg, err := config.Load(config.ProjectDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		// Continue with nil config so the report shows what else holds.
	} else {
		cfgPtr = &cfg
	}

	diag := doctor.Run(ctx, cfgPtr, Version)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
		if diag.Failed() {
			return 1
		}
		return 0
	}

	fmt.Printf("batchweave doctor (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")
	for _, res := range diag.Results {
		icon := "ok  "
		switch res.Status {
		case "FAIL":
			icon = "FAIL"
		case "WARN":
			icon = "warn"
		case "SKIP":
			icon = "skip"
		}
		fmt.Printf("[%s] %-15s %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("       %s\n", res.Detail)
		}
	}

	if diag.Failed() {
		return 1
	}
	return 0
}
