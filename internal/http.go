package internal

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/mediavault/mediavault_server/internal/health"
	"github.com/mediavault/mediavault_server/internal/media"
	"github.com/mediavault/mediavault_server/internal/middleware"
)

func NewRequestHandler(config *Config, mediaEndpoints *media.Endpoints, healthEndpoints *health.HealthEndpoints) fasthttp.RequestHandler {
	authMiddleware := middleware.NewAuthMiddleware(config.Auth.JWTSecret)
	corsMiddleware := middleware.NewCORSMiddleware(config.AllowedOrigins)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health":
			healthEndpoints.Health(ctx)

		case path == "/media/uploads":
			if method == "POST" {
				authMiddleware.RequireAuth(mediaEndpoints.InitiateUpload)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case path == "/media/upload":
			if method == "POST" {
				authMiddleware.RequireAuth(mediaEndpoints.DirectUpload)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case strings.HasPrefix(path, "/media/upload/"):
			// The presigned URL itself is the credential here, no bearer
			// token required.
			parts := strings.Split(path, "/")
			if len(parts) == 4 {
				ctx.SetUserValue("uploadToken", parts[3])
				if method == "PUT" {
					mediaEndpoints.Redeem(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/media":
			if method == "GET" {
				authMiddleware.RequireAuth(mediaEndpoints.List)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case strings.HasPrefix(path, "/media/"):
			parts := strings.Split(path, "/")
			switch {
			case len(parts) == 4 && parts[3] == "status":
				ctx.SetUserValue("mediaID", parts[2])
				if method == "GET" {
					authMiddleware.RequireAuth(mediaEndpoints.Status)(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			case len(parts) == 4 && parts[3] == "download":
				ctx.SetUserValue("mediaID", parts[2])
				if method == "GET" {
					authMiddleware.RequireAuth(mediaEndpoints.Download)(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			case len(parts) == 4 && parts[3] == "verify":
				ctx.SetUserValue("mediaID", parts[2])
				if method == "POST" {
					authMiddleware.RequireAuth(mediaEndpoints.Verify)(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			case len(parts) == 3:
				ctx.SetUserValue("mediaID", parts[2])
				if method == "DELETE" {
					authMiddleware.RequireAuth(mediaEndpoints.Delete)(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			default:
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}
