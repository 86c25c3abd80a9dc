// Package apperr defines shared error sentinels for revharvest.
// It is a leaf package with no internal imports, allowing any package
// (including low-level infrastructure like provider) to use the sentinels
// without creating import cycles.
package apperr
