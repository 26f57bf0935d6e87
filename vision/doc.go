// Package vision is the resilience and concurrency layer around vision AI
// backends.
//
// A Client composes four pieces in front of whichever Provider backend was
// selected at construction time:
//
//  1. content-addressed TTL cache (vision/cache) keyed by
//     SHA-256(artifact bytes || prompt)
//  2. circuit breaker (vision/circuitbreaker) per downstream dependency
//  3. retry with exponential backoff and jitter (vision/retry)
//  4. bounded-concurrency fan-out for multi-artifact requests
//
// Per-call flow: hash -> cache lookup -> on miss, retry(breaker(provider
// call)) -> write back to cache -> return. The client never interprets the
// artifact; it only hashes bytes and forwards paths to the backend.
package vision
