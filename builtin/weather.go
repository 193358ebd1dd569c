// Package builtin ships the tools registered by the agentd daemon out of
// the box: a weather forecast lookup, workspace file access, and a
// save_memory tool writing durable session facts.
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwielgat/agentd/tool"
)

const defaultWeatherBaseURL = "https://wttr.in"

// WeatherOptions configure the forecast tool.
type WeatherOptions struct {
	// BaseURL points at the wttr.in-compatible endpoint.
	BaseURL string
	// Client is the HTTP client used for lookups.
	Client *http.Client
}

// NewWeatherTool builds the get_weather_forecast tool. It queries wttr.in's
// one-line format, which already folds conditions and temperature into a
// short human-readable string.
func NewWeatherTool(optFns ...func(o *WeatherOptions)) tool.Tool {
	opts := WeatherOptions{
		BaseURL: defaultWeatherBaseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return tool.NewFunctionTool(
		"get_weather_forecast",
		"Get the current weather forecast for a specific location as a short one-line summary.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City or place name to get the forecast for",
				},
			},
			"required": []string{"location"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			location, _ := args["location"].(string)
			if strings.TrimSpace(location) == "" {
				return nil, fmt.Errorf("location must not be empty")
			}

			endpoint := fmt.Sprintf("%s/%s?format=3", opts.BaseURL, url.PathEscape(location))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			resp, err := opts.Client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("weather lookup failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("weather service returned status %d", resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"location": location,
				"forecast": strings.TrimSpace(string(body)),
			}, nil
		},
		func(o *tool.FunctionToolOptions) {
			o.Timeout = 10 * time.Second
		},
	)
}
