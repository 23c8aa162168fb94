// Package cache provides a generic, thread-safe LRU cache whose entries also
// expire after a fixed TTL. It sits in front of remote session stores so hot
// session lookups skip a network round trip.
package cache
