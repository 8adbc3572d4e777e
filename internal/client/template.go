package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

const (
	FormatHTML = "html"
	FormatText = "text"
)

type renderRequest struct {
	TemplateKey string         `json:"template_key"`
	Context     map[string]any `json:"context"`
	Format      string         `json:"format"`
}

// TemplateClient renders templates through the template service.
type TemplateClient struct {
	svc service
}

func NewTemplateClient(baseURL string, client *resty.Client) (*TemplateClient, error) {
	svc, err := newService("template service", baseURL, client)
	if err != nil {
		return nil, err
	}
	return &TemplateClient{svc: svc}, nil
}

func (c *TemplateClient) Render(ctx context.Context, templateKey string, vars map[string]any, format string) (domain.RenderedTemplate, error) {
	if strings.TrimSpace(templateKey) == "" {
		return domain.RenderedTemplate{}, fmt.Errorf("%w: template key is required", domain.ErrValidation)
	}
	if format == "" {
		format = FormatHTML
	}
	if vars == nil {
		vars = map[string]any{}
	}

	var rendered domain.RenderedTemplate
	req := renderRequest{TemplateKey: templateKey, Context: vars, Format: format}
	if err := c.svc.post(ctx, "/templates/render", req, &rendered); err != nil {
		return domain.RenderedTemplate{}, err
	}
	if rendered.Format == "" {
		rendered.Format = format
	}
	return rendered, nil
}
