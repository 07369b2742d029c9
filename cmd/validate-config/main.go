// Command validate-config checks one or more YAML configuration files
// against internal/config's schema and default/validation rules, without
// starting the service. Grounded on the donor's cmd/validate-yaml's
// directory-walk/summary-report shape, adapted from per-platform scenario
// validation to this module's single Config document.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rhino11/formation/internal/config"
)

type result struct {
	file  string
	valid bool
	err   string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <file_or_directory> [file_or_directory...]\n", os.Args[0])
		os.Exit(1)
	}

	var files []string
	for _, path := range os.Args[1:] {
		found, err := collectYAMLFiles(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error collecting files from %s: %v\n", path, err)
			os.Exit(1)
		}
		files = append(files, found...)
	}

	if len(files) == 0 {
		fmt.Println("no YAML files found to validate")
		return
	}

	var results []result
	invalid := 0
	for _, f := range files {
		if _, err := config.LoadConfig(f); err != nil {
			results = append(results, result{file: f, valid: false, err: err.Error()})
			invalid++
		} else {
			results = append(results, result{file: f, valid: true})
		}
	}

	for _, r := range results {
		if r.valid {
			fmt.Printf("OK   %s\n", r.file)
		} else {
			fmt.Printf("FAIL %s: %s\n", r.file, r.err)
		}
	}
	fmt.Printf("\n%d file(s) checked, %d valid, %d invalid\n", len(results), len(results)-invalid, invalid)

	if invalid > 0 {
		os.Exit(1)
	}
}

func collectYAMLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if isYAMLFile(path) {
			return []string{path}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && isYAMLFile(filePath) {
			files = append(files, filePath)
		}
		return nil
	})
	return files, err
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
