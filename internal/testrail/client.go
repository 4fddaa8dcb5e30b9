package testrail

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const apiPrefix = "/index.php?/api/v2/"

// HTTPClient talks to the TestRail v2 REST API.
type HTTPClient struct {
	httpClient *resty.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the TestRail instance at baseURL,
// authenticating with user and an API key.
func NewHTTPClient(baseURL, user, apiKey string, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(user, apiKey).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPClient{httpClient: client}
}

type idResponse struct {
	ID int `json:"id"`
}

// CurrentUserID returns the id of the authenticated user.
func (c *HTTPClient) CurrentUserID(ctx context.Context) (int, error) {
	var result idResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		Get(apiPrefix + "get_current_user/0")
	if err != nil {
		return 0, fmt.Errorf("failed to get current user: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("get_current_user error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return result.ID, nil
}

// GetRun returns an existing run.
func (c *HTTPClient) GetRun(ctx context.Context, runID int) (Run, error) {
	var run Run
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&run).
		Get(fmt.Sprintf("%sget_run/%d", apiPrefix, runID))
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	if resp.IsError() {
		return Run{}, fmt.Errorf("get_run error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return run, nil
}

// AddRun adds a run including all cases of the project.
func (c *HTTPClient) AddRun(ctx context.Context, projectID int) (Run, error) {
	var run Run
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		SetResult(&run).
		Post(fmt.Sprintf("%sadd_run/%d", apiPrefix, projectID))
	if err != nil {
		return Run{}, fmt.Errorf("failed to add run: %w", err)
	}
	if resp.IsError() {
		return Run{}, fmt.Errorf("add_run error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return run, nil
}

// AddResultForCase posts result for caseID in runID and returns the new
// result id. Extra fields are sent next to the standard ones.
func (c *HTTPClient) AddResultForCase(ctx context.Context, runID, caseID int, result Result) (int, error) {
	body := make(map[string]any, len(result.Fields)+3)
	for k, v := range result.Fields {
		body[k] = v
	}
	body["status_id"] = result.StatusID
	body["elapsed"] = result.Elapsed
	body["assignedto_id"] = result.AssignedToID

	var created idResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&created).
		Post(fmt.Sprintf("%sadd_result_for_case/%d/%d", apiPrefix, runID, caseID))
	if err != nil {
		return 0, fmt.Errorf("failed to add result: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("add_result_for_case error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return created.ID, nil
}

// AddAttachmentToResult uploads the file at path to resultID.
func (c *HTTPClient) AddAttachmentToResult(ctx context.Context, resultID int, path string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFile("attachment", path).
		Post(fmt.Sprintf("%sadd_attachment_to_result/%d", apiPrefix, resultID))
	if err != nil {
		return fmt.Errorf("failed to upload attachment: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("add_attachment_to_result error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}
