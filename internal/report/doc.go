// Package report summarizes the lead ledger.
//
// Build reads status counts and the most recent leads; the result renders as
// Markdown for the CLI and, through goldmark, as an HTML page served at
// /report.
package report
