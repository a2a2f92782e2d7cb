package openai

import (
	"context"
	"encoding/json"
	"fmt"
)

type imageRequest struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *oaiError `json:"error,omitempty"`
}

// GenerateImage asks the images endpoint for a single 1024x1024 rendering of
// prompt and returns the hosted image URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	body := imageRequest{
		Prompt:         prompt,
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "url",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openai: marshal image request: %w", err)
	}

	respBody, status, err := c.post(ctx, "/images/generations", data)
	if err != nil {
		return "", err
	}

	var resp imageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("openai: decode image response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai: API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("openai: no image returned (HTTP %d)", status)
	}
	return resp.Data[0].URL, nil
}
