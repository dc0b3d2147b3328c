package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cryptoSignalBot/internal/ports"
)

// HandleError logs a failed venue operation and wraps err with the operation name.
// Missing orders and positions are expected during reconciliation and log at debug.
func (c *Client) HandleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"exchange": c.cfg.Name, "operation": operation, "originalError": err.Error()}
	var apiErr *ports.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
	}

	switch {
	case errors.Is(err, ports.ErrOrderNotFound), errors.Is(err, ports.ErrPositionNotFound):
		c.logger.Debug(ctx, operation+" found nothing to act on", fields)
	case errors.Is(err, ports.ErrContextCanceled):
		c.logger.Warn(ctx, operation+" canceled", fields)
	default:
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

// Decode unmarshals a venue payload, reporting malformed data as ErrUnknown.
func Decode(raw []byte, out interface{}) error {
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ports.ErrUnknown, err)
	}
	return nil
}

// StatusError maps an HTTP status to a sentinel when the body carries no venue code.
func StatusError(status int, body []byte) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: http %d: %s", ports.ErrAuthenticationFailed, status, snippet(body))
	case status >= 400:
		return fmt.Errorf("%w: http %d: %s", ports.ErrInvalidRequest, status, snippet(body))
	default:
		return fmt.Errorf("%w: unexpected response: %s", ports.ErrUnknown, snippet(body))
	}
}

// ID decodes order identifiers sent either as JSON strings or integers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	*id = ID(bytes.Trim(b, `"`))
	return nil
}

func (id ID) String() string { return string(id) }
