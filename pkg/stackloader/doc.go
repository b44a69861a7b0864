// Package stackloader loads HasuraStack documents. Documents are validated
// and defaulted against the embedded CUE schema before they are decoded.
package stackloader
