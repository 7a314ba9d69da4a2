// Package gitrepo implements the repository adapter on go-git: clone into an
// isolated working directory, create a healing branch, commit staged fixes,
// and push over token-authenticated HTTPS.
package gitrepo
