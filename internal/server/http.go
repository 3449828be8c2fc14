package server

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/toolgate-ai/toolgate/internal/auth"
)

// Handler returns the HTTP surface: the streamable MCP endpoint at /mcp
// behind the given authenticator, plus a plain /healthz. A nil authenticator
// disables auth (stdio-equivalent trust, for local use only).
func (s *Server) Handler(a auth.Authenticator) http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcpServer("http")
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/mcp", s.requireAuth(a, mcpHandler))
	return mux
}

func (s *Server) requireAuth(a auth.Authenticator, next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project, err := a.Authenticate(r)
		if err != nil {
			s.logger.Debug("request rejected", zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithProject(r.Context(), project)))
	})
}
