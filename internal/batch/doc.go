// Package batch runs several crawl jobs concurrently.
//
// Each job owns its frontier and crawler, so jobs share nothing but the
// concurrency limit. A failing job is recorded in its Result and the others
// keep running, unless fail-fast is enabled, in which case the first failure
// cancels the rest.
package batch
