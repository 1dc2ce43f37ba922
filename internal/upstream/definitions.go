package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/funnyzak/reportsync/internal/definitions"
	"github.com/funnyzak/reportsync/pkg/request"
)

type definitionsEnvelope struct {
	Default struct {
		Items []definitionItem `json:"items"`
	} `json:"default"`
}

type definitionItem struct {
	Name  string             `json:"name"`
	Index request.FlexString `json:"index"`
}

// FetchDefinitions loads the user dimensions and custom definitions of a
// property using the captured session headers.
func (c *Client) FetchDefinitions(ctx context.Context, propertyID string, headers map[string]string) (*definitions.Set, error) {
	users, err := c.fetchDefinitionList(ctx, c.opts.UserDimensionsPath, propertyID, headers)
	if err != nil {
		return nil, fmt.Errorf("user dimensions of property %s: %w", propertyID, err)
	}
	custom, err := c.fetchDefinitionList(ctx, c.opts.CustomDefinitionsPath, propertyID, headers)
	if err != nil {
		return nil, fmt.Errorf("custom definitions of property %s: %w", propertyID, err)
	}
	return &definitions.Set{
		PropertyID:        propertyID,
		UserDimensions:    users,
		CustomDefinitions: custom,
	}, nil
}

func (c *Client) fetchDefinitionList(ctx context.Context, p, propertyID string, headers map[string]string) ([]definitions.Definition, error) {
	target := c.definitionsURL(p, propertyID)

	reqHeaders := map[string]string{"Accept": "application/json, text/plain, */*"}
	for k, v := range headers {
		if strings.EqualFold(k, "content-type") {
			continue
		}
		reqHeaders[k] = v
	}

	resp, err := c.Submit(ctx, http.MethodGet, target, reqHeaders, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("definitions request returned status %d", resp.StatusCode)
	}

	var env definitionsEnvelope
	if err := Decode(resp.Body, c.opts.XSSIPrefixLength, &env); err != nil {
		return nil, err
	}

	out := make([]definitions.Definition, 0, len(env.Default.Items))
	for _, item := range env.Default.Items {
		index, err := strconv.Atoi(string(item.Index))
		if err != nil {
			c.logger.Debug("Skipping definition without numeric index", "name", item.Name, "index", string(item.Index))
			continue
		}
		out = append(out, definitions.Definition{Name: item.Name, Index: index})
	}
	return out, nil
}

func (c *Client) definitionsURL(p, propertyID string) string {
	query := "dataset=p" + url.QueryEscape(propertyID)
	if c.opts.DefinitionsQuery != "" {
		query += "&" + strings.TrimPrefix(c.opts.DefinitionsQuery, "?")
	}
	return joinURL(c.opts.BaseURL, p) + "?" + query
}
