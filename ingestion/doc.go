// Package ingestion moves pages from the content source into the object
// store and the vector index.
//
// The Pipeline processes a page in seven steps:
//   - fetch the page from the source
//   - persist the raw page JSON
//   - extract the page text
//   - embed the text
//   - build the vector metadata
//   - upsert the vector under project#title
//   - persist the processed metadata JSON
//
// Every attempted step is recorded in the page's ledger. The first failing
// step aborts the page; earlier writes are kept and a rerun overwrites them.
// ProcessAll walks a whole project one page at a time and isolates page
// failures, so one bad page never aborts the batch.
package ingestion
