// Package network resolves existing networks by lookup criteria. Lookups are
// cached in a context file so that graph assembly never needs to reach the
// cloud provider; the EC2 resolver refreshes the cache on demand.
package network
