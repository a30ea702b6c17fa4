// Package handler adapts API Gateway proxy events to the agent service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-agent/internal/usecase"
)

// ChatService is the slice of the agent service the handler needs.
type ChatService interface {
	Chat(ctx context.Context, message, userID string) (string, error)
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type chatResponse struct {
	Reply  string `json:"reply"`
	UserID string `json:"userId"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handler is the Lambda entry for the chat endpoint.
type Handler struct {
	svc ChatService
}

func NewHandler(svc ChatService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle processes one chat turn per request.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := uuid.NewString()

	var req chatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "malformed_body",
		}), nil
	}

	reply, err := h.svc.Chat(ctx, req.Message, req.UserID)
	if err != nil {
		status, body := mapError(err)
		slog.Error("chat turn failed", "correlation_id", correlationID, "status", status, "err", err)
		return jsonResponse(status, correlationID, body), nil
	}

	return jsonResponse(http.StatusOK, correlationID, chatResponse{
		Reply:  reply,
		UserID: req.UserID,
	}), nil
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	case usecase.ErrorHandlerFailure:
		return http.StatusInternalServerError, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	case usecase.ErrorStoreUnavailable:
		return http.StatusServiceUnavailable, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	}
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		// Marshalling our own response types cannot realistically fail;
		// degrade to a bare status if it somehow does.
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(buf),
	}
}
