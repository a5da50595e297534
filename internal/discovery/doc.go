// Package discovery feeds the registry with candidate device addresses.
//
// Two sources exist: a static address list registered at startup, and an
// optional periodic nmap ping sweep of the local subnet. Registration is
// idempotent, so re-discovering a known address is a no-op; discovery
// never deregisters, because an address missing from one sweep is usually
// a transient miss rather than removed hardware.
//
// Hosts whose scan hostname identifies a camera are skipped before
// registration; the probe layer would reject them anyway, but skipping
// here keeps permanently unpollable records out of the registry.
package discovery
