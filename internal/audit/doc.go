// Package audit holds the domain model and the core flow of a site audit.
//
//   - Orchestrator sequences the probes. Performance and basic SEO are mandatory and abort
//     the audit on failure; the security probe falls back to a zeroed fragment; the privacy
//     and deep SEO probes run only in complete mode and degrade to absent fragments.
//   - Service wraps the orchestrator with the result cache, persistence and event
//     publishing. Only orchestrator errors reach the caller.
//   - Validation helpers normalize domains and reject local or private hosts, malformed
//     emails and stale request timestamps.
package audit
