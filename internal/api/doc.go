// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /api/webhooks/vehicles for CRM upserts and sold notifications.
//   - POST /api/webhooks/vehicles/mark-sold and POST|DELETE
//     /api/webhooks/vehicles/delete for the narrower CRM hooks.
//   - GET /api/vehicles/{id} to read a vehicle back with its images.
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
