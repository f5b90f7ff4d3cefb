package webservice

import "net/http"

type (
	DConfigManager = dConfigManager
	DStore         = dStore
)

// HTTPServer returns the HTTP server for testing purposes.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}
