package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/mediavault/mediavault_server/internal/cas"
)

type HealthEndpoints struct {
	version string
	db      *sql.DB
	store   *cas.Store
}

func NewEndpoints(version string, db *sql.DB, store *cas.Store) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
		db:      db,
		store:   store,
	}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Storage  string `json:"storage"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Database: "ok",
		Storage:  "ok",
	}
	code := fasthttp.StatusOK

	if err := h.db.PingContext(checkCtx); err != nil {
		log.Error().Err(err).Msg("Database health check failed")
		response.Status = "degraded"
		response.Database = "unavailable"
		code = fasthttp.StatusServiceUnavailable
	}
	if err := h.store.HealthCheck(checkCtx); err != nil {
		log.Error().Err(err).Msg("Storage health check failed")
		response.Status = "degraded"
		response.Storage = "unavailable"
		code = fasthttp.StatusServiceUnavailable
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)
	ctx.SetBody(responseJSON)
}
