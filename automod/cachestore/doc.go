// Automod component for caching small values (as JSON strings) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis, memcached and in-process memory.
//
// Used to hold external reputation lookups for a short time, reducing load on rate-limited third-party APIs when the same bundle is requested repeatedly.
package cachestore
