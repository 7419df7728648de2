// Package api serves the site-audit HTTP surface:
//   - POST /audit runs or returns a cached audit.
//   - POST /send-audit audits, prints the PDF and emails it (XHR only).
//   - POST /pdf audits and streams the PDF report.
//   - GET|POST /admin/stats and POST /admin/cleanup behind bearer auth.
//   - GET /healthz, /readyz and /metrics for operators.
package api
