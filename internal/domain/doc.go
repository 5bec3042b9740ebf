// Package domain holds the records shared across the pipeline: pipeline
// runs, articles, users, run events and the typed errors used at package
// boundaries.
package domain
