// Package cachestore caches derived governance data for a short, fixed TTL.
//
// Values are stored as JSON, either in process memory or in redis behind a
// small in-process tier. Loader adds read-through with coalesced misses on
// top of either store.
//
// The content filter keeps the current epoch's keyword rules here, so a
// scoring run does not re-read the epoch row for every batch.
package cachestore
