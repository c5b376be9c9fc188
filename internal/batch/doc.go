// Package batch runs independent remote operations with bounded parallelism
// and folds their outcomes into per-phase summaries.
package batch
