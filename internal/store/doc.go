// Package store defines the document store contract used by the ingestion pipeline and the crawl
// resumption controller. Implementations live in subpackages; this package must not import database
// drivers or concrete clients.
package store
