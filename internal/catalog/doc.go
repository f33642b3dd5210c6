// Package catalog defines registered derived collections (entities), their
// lineage paths and smart-patch hints, and validates definitions before they
// reach the dependency graph or the metadata store.
package catalog
