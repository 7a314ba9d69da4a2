// Package testrunner implements the test adapter: it auto-detects the test
// framework of a working copy (go test, pytest, jest, vitest, mocha),
// discovers test files by framework conventions, executes the suite with a
// bounded timeout, and parses failures into structured records.
package testrunner
