package api

import (
	"time"

	"github.com/starford/pkgsnap/internal/packageservice"
)

// Package is one tracked package (aliased from the domain layer).
type Package = packageservice.Package

// PackageListResponse wraps paginated package listings.
type PackageListResponse struct {
	Packages []Package `json:"packages"`
	Total    int       `json:"total"`
}

// ChangesResponse lists the packages changed at or after Since.
type ChangesResponse struct {
	Since    *time.Time `json:"since"`
	Packages []Package  `json:"packages"`
}
