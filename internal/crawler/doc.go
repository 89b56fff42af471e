// Package crawler implements the crawl controller of the harvester together with
// the domain types, error taxonomy and collaborator interfaces shared by the
// fetcher, parser, classifier, stores and sync manager.
package crawler
