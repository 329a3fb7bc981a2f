package media

import (
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/mediavault/mediavault_server/internal/cas"
	"github.com/mediavault/mediavault_server/internal/session"
)

type Endpoints struct {
	service *Service
}

func NewEndpoints(service *Service) *Endpoints {
	return &Endpoints{service: service}
}

type initiateUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type initiateUploadResponse struct {
	MediaID     int64            `json:"media_id"`
	UploadURL   string           `json:"upload_url"`
	UploadToken string           `json:"upload_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Status      ProcessingStatus `json:"status"`
}

type uploadResponse struct {
	MediaID          int64            `json:"media_id"`
	ContentHash      *string          `json:"content_hash"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	UploadURL        *string          `json:"upload_url"`
}

type statusResponse struct {
	MediaID          int64            `json:"media_id"`
	Status           ProcessingStatus `json:"status"`
	Progress         int              `json:"progress"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	DownloadURL      *string          `json:"download_url"`
	ProcessingTimeMs *int64           `json:"processing_time_ms"`
	UploadedAt       time.Time        `json:"uploaded_at"`
	CompletedAt      *time.Time       `json:"completed_at"`
}

func (e *Endpoints) InitiateUpload(ctx *fasthttp.RequestCtx) {
	var req initiateUploadRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
		return
	}

	result, err := e.service.InitiateUpload(ctx, req.Filename, req.ContentType, req.Size)
	if err != nil {
		writeError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusCreated, initiateUploadResponse{
		MediaID:     result.Media.ID,
		UploadURL:   result.UploadURL,
		UploadToken: result.Session.Token,
		ExpiresAt:   result.Session.ExpiresAt,
		Status:      result.Media.Status,
	})
}

// Redeem accepts the raw binary body for a presigned session. Every
// parameter the signature covers is taken from the request, not from
// server-side state, so tampering with any of them fails verification.
func (e *Endpoints) Redeem(ctx *fasthttp.RequestCtx) {
	token, ok := ctx.UserValue("uploadToken").(string)
	if !ok || token == "" {
		ctx.Error("Upload token is required", fasthttp.StatusBadRequest)
		return
	}

	args := ctx.QueryArgs()
	signature := string(args.Peek("signature"))
	contentType := string(args.Peek("type"))
	expires, err := strconv.ParseInt(string(args.Peek("expires")), 10, 64)
	if err != nil {
		ctx.Error("Invalid expires parameter", fasthttp.StatusBadRequest)
		return
	}
	size, err := strconv.ParseInt(string(args.Peek("size")), 10, 64)
	if err != nil {
		ctx.Error("Invalid size parameter", fasthttp.StatusBadRequest)
		return
	}

	m, err := e.service.AcceptUpload(ctx, token, signature, expires, size, contentType, ctx.RequestBodyStream())
	if err != nil {
		writeError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, uploadResponse{
		MediaID:          m.ID,
		ContentHash:      m.ContentHash,
		ProcessingStatus: m.Status,
		UploadURL:        nil,
	})
}

func (e *Endpoints) DirectUpload(ctx *fasthttp.RequestCtx) {
	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.Error("Content-Type must be multipart/form-data", fasthttp.StatusBadRequest)
		return
	}

	files := form.File["file"]
	if len(files) == 0 {
		ctx.Error("No file uploaded", fasthttp.StatusBadRequest)
		return
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		ctx.Error("Failed to open uploaded file", fasthttp.StatusInternalServerError)
		return
	}
	defer file.Close()

	m, err := e.service.DirectUpload(ctx, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), fileHeader.Size, file)
	if err != nil {
		writeError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusCreated, uploadResponse{
		MediaID:          m.ID,
		ContentHash:      m.ContentHash,
		ProcessingStatus: m.Status,
		UploadURL:        nil,
	})
}

func (e *Endpoints) Status(ctx *fasthttp.RequestCtx) {
	id, ok := mediaIDFromCtx(ctx)
	if !ok {
		return
	}

	m, err := e.service.Get(ctx, id)
	if err != nil {
		writeError(ctx, err)
		return
	}

	resp := statusResponse{
		MediaID:      m.ID,
		Status:       m.Status,
		Progress:     progressFor(m.Status),
		ErrorMessage: m.ErrorMessage,
		UploadedAt:   m.UploadedAt,
		CompletedAt:  m.CompletedAt,
	}
	if m.Status == StatusComplete {
		url := "/media/" + strconv.FormatInt(m.ID, 10) + "/download"
		resp.DownloadURL = &url
		if m.CompletedAt != nil {
			ms := m.CompletedAt.Sub(m.UploadedAt).Milliseconds()
			resp.ProcessingTimeMs = &ms
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (e *Endpoints) List(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	cursor := string(args.Peek("cursor"))
	statusFilter := string(args.Peek("status"))

	limit := DefaultPageSize
	if args.Has("limit") {
		n, err := strconv.Atoi(string(args.Peek("limit")))
		if err != nil {
			ctx.Error("Invalid limit parameter", fasthttp.StatusBadRequest)
			return
		}
		limit = ClampLimit(n)
	}

	page, err := e.service.List(ctx, cursor, limit, statusFilter)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, page)
}

func (e *Endpoints) Download(ctx *fasthttp.RequestCtx) {
	id, ok := mediaIDFromCtx(ctx)
	if !ok {
		return
	}

	r, m, err := e.service.Download(ctx, id)
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.SetContentType(m.ContentType)
	ctx.Response.Header.Set("Content-Disposition", `inline; filename="`+m.OriginalFilename+`"`)
	ctx.SetBodyStream(r, int(m.FileSize))
}

func (e *Endpoints) Delete(ctx *fasthttp.RequestCtx) {
	id, ok := mediaIDFromCtx(ctx)
	if !ok {
		return
	}

	if err := e.service.Delete(ctx, id); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) Verify(ctx *fasthttp.RequestCtx) {
	id, ok := mediaIDFromCtx(ctx)
	if !ok {
		return
	}

	if err := e.service.VerifyIntegrity(ctx, id); err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"result": "valid"})
}

func mediaIDFromCtx(ctx *fasthttp.RequestCtx) (int64, bool) {
	raw, ok := ctx.UserValue("mediaID").(string)
	if !ok || raw == "" {
		ctx.Error("Media ID is required", fasthttp.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		ctx.Error("Invalid media ID", fasthttp.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func progressFor(status ProcessingStatus) int {
	switch status {
	case StatusProcessing:
		return 50
	case StatusComplete:
		return 100
	default:
		return 0
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)
	ctx.SetBody(body)
}

// writeError maps the error taxonomy to HTTP codes. Server faults get a
// generic message so internal paths never leak.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, session.ErrValidation),
		errors.Is(err, ErrSizeMismatch),
		errors.Is(err, ErrMalformedCursor),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, cas.ErrInvalidHash):
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
	case errors.Is(err, session.ErrSignatureInvalid):
		ctx.Error(err.Error(), fasthttp.StatusForbidden)
	case errors.Is(err, session.ErrExpired):
		ctx.Error(err.Error(), fasthttp.StatusGone)
	case errors.Is(err, session.ErrAlreadyConsumed),
		errors.Is(err, ErrNotReady),
		errors.Is(err, ErrIllegalTransition):
		ctx.Error(err.Error(), fasthttp.StatusConflict)
	case errors.Is(err, ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, cas.ErrFileNotFound):
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	case errors.Is(err, cas.ErrHashMismatch):
		log.Error().Err(err).Msg("Stored content failed integrity check")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
	default:
		log.Error().Err(err).Msg("Request failed")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
	}
}
