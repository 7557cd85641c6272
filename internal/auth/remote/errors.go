package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	kratos "github.com/ory/kratos-client-go"

	"optiquantia/internal/auth"
)

type uiText struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type errorBody struct {
	UI *struct {
		Messages []uiText `json:"messages"`
		Nodes    []struct {
			Messages []uiText `json:"messages"`
		} `json:"nodes"`
	} `json:"ui"`
	Error *struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// messageFromBody picks the most specific user-facing message of a Kratos
// error payload: flow messages, then field messages, then the generic error.
func messageFromBody(body []byte) string {
	var b errorBody
	if err := json.Unmarshal(body, &b); err != nil {
		return ""
	}
	if b.UI != nil {
		for _, m := range b.UI.Messages {
			if m.Type == "error" && m.Text != "" {
				return m.Text
			}
		}
		for _, n := range b.UI.Nodes {
			for _, m := range n.Messages {
				if m.Type == "error" && m.Text != "" {
					return m.Text
				}
			}
		}
	}
	if b.Error != nil {
		if b.Error.Reason != "" {
			return b.Error.Reason
		}
		return b.Error.Message
	}
	return ""
}

// classify maps a failed Kratos call: no response or 5xx is a transport
// failure, any other 4xx is a rejection carrying the payload's message.
func classify(op string, err error, resp *http.Response) error {
	if resp == nil || resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode < http.StatusBadRequest {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return auth.Transport(fmt.Errorf("kratos %s (status %d): %w", op, status, err))
	}
	var apiErr *kratos.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		return auth.Reject(strings.TrimSpace(messageFromBody(apiErr.Body())))
	}
	return auth.Reject("")
}
