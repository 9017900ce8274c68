// =============================================================================
// XLSX Template Export - Main Entry Point
// =============================================================================
//
// USAGE:
//   exporter populate   - Write records into a template and save the workbook
//   exporter validate   - Check a template config against its template
//   exporter inspect    - Show the sheets, ranges and first rows of a template
//   exporter serve      - Run the HTTP API
//   exporter version    - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : engine, config, storage, HTTP server
//   - pkg/           : shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/xlsx-template-export/cmd"
)

func main() {
	cmd.Execute()
}
