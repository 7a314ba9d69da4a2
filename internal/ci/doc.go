// Package ci implements the CI adapter: it polls GitHub Actions workflow
// runs for a branch until the pipeline completes, times out, or turns out to
// be absent, and classifies transient GitHub API failures for retry.
package ci
