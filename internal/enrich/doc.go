// Package enrich wraps the media enrichment API used to label and caption
// safari media. The client retries transient failures with policy-specific
// backoff: rate limits honor Retry-After, other upstream errors back off
// exponentially, and network failures back off linearly.
package enrich
