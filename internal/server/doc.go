// Package server hosts the Fiber HTTP service: the request-ID and recovery
// middleware chain, JSON error rendering, the registry of same-origin proxy
// route families and the startup wiring of the session store and CMS client.
// Presentation and diagnostics endpoints live in server/routes and are
// registered on the app returned by NewApp.
package server
