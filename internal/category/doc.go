// Package category defines the closed set of notification categories and the
// registry holding their default priority, presentation metadata and default
// delivery cadence.
package category
