// Package grove is a framework for collecting security-relevant audit
// events from SaaS providers which do not natively stream logs.
//
// Each upstream source is polled on its own cadence by a connector, with
// progress checkpointed as an opaque pointer so restarts do not lose
// ground and failures in one source do not stall the others. Collected
// records flow through an ordered processor chain, are stamped with
// provenance, and are handed to a pluggable output backend.
//
// The cmd/grove binary runs every configured instance once and exits;
// cmd/groved runs the long-lived scheduler. All runtime configuration is
// environmental via GROVE_* variables.
package grove
