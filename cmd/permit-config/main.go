package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oarkflow/permit"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		handleValidate()
	case "convert":
		handleConvert()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permit-config - Configuration tool for permit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permit-config validate <file>               - Validate a configuration")
	fmt.Println("  permit-config convert <input> <output>      - Convert between formats")
	fmt.Println("  permit-config stats <file>                  - Show configuration statistics")
	fmt.Println("  permit-config check <file> <field>...       - Evaluate one request")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config validate <file>")
		os.Exit(1)
	}
	cfg, err := permit.LoadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Valid.")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config convert <input> <output>")
		os.Exit(1)
	}
	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := permit.LoadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	var data []byte
	switch strings.ToLower(filepath.Ext(outputFile)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		fmt.Printf("Unsupported output format: %s\n", filepath.Ext(outputFile))
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error encoding config: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		fmt.Printf("Error writing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config stats <file>")
		os.Exit(1)
	}
	cfg, err := permit.LoadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Request definitions:  %d\n", len(cfg.Model.RequestDefinition))
	fmt.Printf("Policy definitions:   %d\n", len(cfg.Model.PolicyDefinition))
	fmt.Printf("Role definitions:     %d\n", len(cfg.Model.RoleDefinition))
	fmt.Printf("Policy rows:          %d\n", len(cfg.Policies))
	fmt.Printf("Grouping rows:        %d\n", len(cfg.Grouping))
	if cfg.Cache.Enabled {
		fmt.Printf("Decision cache:       enabled (ttl %s)\n", cfg.Cache.TTL())
	} else {
		fmt.Println("Decision cache:       disabled")
	}
}

func handleCheck() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config check <file> <field>...")
		os.Exit(1)
	}
	cfg, err := permit.LoadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	e, err := permit.NewEnforcerFromConfig(cfg)
	if err != nil {
		fmt.Printf("Error building enforcer: %v\n", err)
		os.Exit(1)
	}
	rvals := make([]any, 0, len(os.Args)-3)
	for _, arg := range os.Args[3:] {
		rvals = append(rvals, arg)
	}
	ok, explain, err := e.EnforceEx(rvals...)
	if err != nil {
		fmt.Printf("Error evaluating request: %v\n", err)
		os.Exit(1)
	}
	if ok {
		fmt.Println("ALLOW")
	} else {
		fmt.Println("DENY")
	}
	if len(explain) > 0 {
		fmt.Printf("Matched rule: %s\n", strings.Join(explain, ", "))
	}
}
