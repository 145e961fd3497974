// Package reindex rebuilds the vector index from raw pages already held in
// the object store, without contacting the page source.
//
// Raw pages under scrapbox/{project}/ are read in batches, embedded with a
// single EmbedTexts call per batch and upserted under their document IDs.
// Each batch is retried with exponential backoff, and a ProgressTracker
// reports throughput and the estimated time remaining.
package reindex
