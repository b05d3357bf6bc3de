package server

// Route path constants
// The launch and callback paths are registered with EHRs and must not change
const (
	// SMART launch sequence
	RouteLaunchHTML = "/launch.html"
	RouteLaunch     = "/launch"
	RouteCallback   = "/callback"

	// Presentation
	RouteIndex     = "/index.html"
	RouteRoot      = "/{$}"
	RouteLogout    = "/logout"
	RouteFHIRProxy = "/fhir/{path...}"

	// Liveness
	RouteHealthcheck = "/healthcheck.html"

	// Static Asset Routes (patterns)
	RouteStaticResources = "/resources/{file...}"
	RouteStaticLib       = "/lib/{file...}"
)
