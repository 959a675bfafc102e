// Package app wires the report service together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from environment and files
//	2. Initialize logging and OpenTelemetry
//	3. Open the run store (SQLite or memory) and the artifact sinks
//	4. Build the source service, the report steps and the run manager
//	5. Set up the WebSocket hub, HTTP handlers and middleware
//	6. Start the HTTP server and stop it on SIGINT/SIGTERM
//
// # Usage
//
//	application, err := app.NewApplication()
//	if err != nil {
//	    return err
//	}
//	return application.Run()
package app
