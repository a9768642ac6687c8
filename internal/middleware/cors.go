package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSMiddleware returns CORS configuration for the web and mobile clients.
// An empty origin list allows any origin.
func CORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,

		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},

		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Requested-With",
			"X-Request-Id",
		},

		ExposedHeaders: []string{
			"Link",
			"X-Request-Id",
			"Retry-After",
		},

		AllowCredentials: true,

		// Cache preflight requests for 5 minutes
		MaxAge: 300,
	})
}
