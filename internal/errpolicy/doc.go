// Package errpolicy decides what a crawl does when fetching or handling a
// page fails.
//
// A Policy receives the error and a retry callback bound to the failing URL.
// Throwing stops the crawl, Logging records the error and moves on, and
// Retrying re-enqueues the URL before handing the error to an inner policy.
// Policies compose, so Retrying(Logging) is the usual production choice.
package errpolicy
