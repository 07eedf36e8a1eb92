// Package server exposes a bcache.Cache over HTTP with Fiber.
//
// Blocks live under /blocks/:dev/:block. GET reads through the cache, PUT
// writes through it, and the pin/unpin sub-resources adjust the reference
// count of a resident block. Diagnostics live under /-/.
//
// Every /blocks request holds one slot of a weighted semaphore while it
// touches the cache. Size MaxInflight below the pool size so that bursts
// queue here instead of exhausting the pool.
package server
