// Package crawler defines the data model and collaborator interfaces shared by
// the harvesting pipeline: work items, navigation results, document fetch
// results, processing outcomes, and result records.
package crawler
