// Package config holds crawlkeeper's run settings and crawl jobs.
//
// Config carries process-wide options set from CLI flags. Job describes one
// crawl: its roots, where its frontier lives, and how pages are fetched and
// handled. Jobs come from CLI flags or from a YAML file with a defaults
// block and named jobs, see File.
package config
