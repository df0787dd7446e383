// Package domain contains the core business concepts for the docx-renderer service.
// Keep this package free of transport (HTTP) and infrastructure (Redis/Postgres) concerns.
package domain
