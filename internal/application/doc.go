// Package application provides application initialization and dependency wiring.
// It builds the configuration loader, snapshot storage, handlers, routers and
// the HTTP server of the inspection service, keeping the main package focused
// on CLI parsing and orchestration.
package application
