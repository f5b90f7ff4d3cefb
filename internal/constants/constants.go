// Package constants is responsible for defining the constants used in the application.
package constants

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// WebServiceCmdName is the name of the web service command.
	WebServiceCmdName = "wattline-web-service"

	// IngestServiceCmdName is the name of the ingest service command.
	IngestServiceCmdName = "wattline-ingest-service"
)

const (
	// DefaultSource is the source recorded for telemetry submissions that do not identify their agent.
	DefaultSource = "unknown"
)
