package crmclient

import (
	"errors"
	"net/http"

	"github.com/d-kuro/crmclient/pkg/auth"
	"github.com/d-kuro/crmclient/pkg/constants"
	"github.com/d-kuro/crmclient/pkg/types"
)

// ExtractData decodes the standard response envelope and returns its data.
// An envelope with success set to false is returned as *types.APIError.
func ExtractData[T any](resp *types.Response) (T, error) {
	var env types.Envelope[T]
	if err := resp.DecodeJSON(&env); err != nil {
		var zero T
		return zero, err
	}
	if !env.Success {
		var zero T
		return zero, &types.APIError{
			StatusCode: resp.StatusCode,
			Message:    firstNonEmpty(env.Error, env.Message),
			Errors:     env.Errors,
			Body:       resp.Body,
		}
	}
	return env.Data, nil
}

// ExtractPage decodes a list envelope, returning the items and the
// pagination metadata.
func ExtractPage[T any](resp *types.Response) ([]T, *types.ResponseMeta, error) {
	var env types.Envelope[[]T]
	if err := resp.DecodeJSON(&env); err != nil {
		return nil, nil, err
	}
	if !env.Success {
		return nil, nil, &types.APIError{
			StatusCode: resp.StatusCode,
			Message:    firstNonEmpty(env.Error, env.Message),
			Errors:     env.Errors,
			Body:       resp.Body,
		}
	}
	return env.Data, env.Meta, nil
}

// HandleAPIError returns a message suitable for showing to a user.
func HandleAPIError(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "" {
			return apiErr.Errors[0].Message
		}
		if text := http.StatusText(apiErr.StatusCode); text != "" {
			return text
		}
		return constants.UnexpectedErrorMessage
	}

	var authErr *auth.AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}

	if message := err.Error(); message != "" {
		return message
	}
	return constants.UnexpectedErrorMessage
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
