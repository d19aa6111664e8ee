// Package smoke holds black-box checks run against a deployed API with
// `go test -tags smoke ./internal/smoke`.
package smoke
