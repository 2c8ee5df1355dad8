// Package handler provides the API Gateway handlers for upload intake.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/intake"
	"github.com/siftbeam/upload-pipeline/internal/logging"
)

// Intake is the upload service behind the handlers.
type Intake interface {
	Upload(ctx context.Context, p intake.Principal, files []intake.File) (*intake.UploadResult, error)
	UploadPaths(ctx context.Context, p intake.Principal, paths []string) (*intake.UploadResult, error)
	Presign(ctx context.Context, p intake.Principal, fileNames []string) (*intake.PresignResult, error)
}

var errUnauthorized = errors.New("API key not found")

var corsHeaders = map[string]string{
	"Content-Type":                 "application/json",
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token,x-file-name,x-file-size",
	"Access-Control-Allow-Methods": "POST,OPTIONS",
}

// SuccessBody is the body of a successful response.
type SuccessBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// ErrorBody is the body of a failed response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves POST /upload and POST /generate-upload-urls.
type Handler struct {
	intake Intake
	logger *zap.Logger
}

// New creates a Handler.
func New(svc Intake, logger *zap.Logger) *Handler {
	return &Handler{intake: svc, logger: logger}
}

// Upload stores the files of the request. The body is multipart/form-data, a
// JSON document with base64 files or file paths, or a single raw file named
// by the fileName query parameter or the x-file-name header.
func (h *Handler) Upload(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, map[string]string{})
	}
	log := logging.WithRequest(ctx, h.logger)

	p, err := principal(req)
	if err != nil {
		return h.fail(log, err)
	}

	parsed, err := parseUpload(req)
	if err != nil {
		return h.fail(log, err)
	}

	var result *intake.UploadResult
	if parsed.paths != nil {
		result, err = h.intake.UploadPaths(ctx, p, parsed.paths)
	} else {
		result, err = h.intake.Upload(ctx, p, parsed.files)
	}
	if err != nil {
		return h.fail(log, err)
	}

	return respond(http.StatusOK, SuccessBody{
		Success: true,
		Message: fmt.Sprintf("%d file(s) uploaded", len(result.Files)),
		Data:    result,
	})
}

// GenerateUploadURLs negotiates a pre-signed upload for the files named in
// the JSON body {"files":[{"fileName":"..."}]}.
func (h *Handler) GenerateUploadURLs(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, map[string]string{})
	}
	log := logging.WithRequest(ctx, h.logger)

	p, err := principal(req)
	if err != nil {
		return h.fail(log, err)
	}

	names, err := parsePresign(req)
	if err != nil {
		return h.fail(log, err)
	}

	result, err := h.intake.Presign(ctx, p, names)
	if err != nil {
		return h.fail(log, err)
	}

	return respond(http.StatusOK, SuccessBody{
		Success: true,
		Message: fmt.Sprintf("%d upload URL(s) generated", len(result.UploadURLs)),
		Data:    result,
	})
}

func principal(req events.APIGatewayProxyRequest) (intake.Principal, error) {
	id := req.RequestContext.Identity.APIKeyID
	if id == "" {
		return intake.Principal{}, errUnauthorized
	}
	return intake.Principal{APIKeyID: id}, nil
}

// fail maps err onto a status code. Internal errors are logged and not echoed.
func (h *Handler) fail(log *zap.Logger, err error) (events.APIGatewayProxyResponse, error) {
	switch {
	case errors.Is(err, errUnauthorized):
		log.Info("request rejected", zap.Error(err))
		return respond(http.StatusUnauthorized, ErrorBody{Error: "Unauthorized", Message: err.Error()})
	case errors.Is(err, domain.ErrValidation):
		log.Info("request rejected", zap.Error(err))
		return respond(http.StatusBadRequest, ErrorBody{Error: "Bad Request", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		log.Info("request rejected", zap.Error(err))
		return respond(http.StatusNotFound, ErrorBody{Error: "Not Found", Message: err.Error()})
	default:
		log.Error("request failed", zap.Error(err))
		return respond(http.StatusInternalServerError, ErrorBody{
			Error:   "Internal Server Error",
			Message: "the request could not be completed",
		})
	}
}

func respond(status int, body any) (events.APIGatewayProxyResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("failed to marshal response: %w", err)
	}
	headers := make(map[string]string, len(corsHeaders))
	for k, v := range corsHeaders {
		headers[k] = v
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(data),
	}, nil
}
