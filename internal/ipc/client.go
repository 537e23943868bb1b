package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartRun creates and starts a run.
func (c *Client) StartRun(req RunStartRequest) (*RunResponse, error) {
	return c.runCall("StartRun", req)
}

// Pause suspends a run.
func (c *Client) Pause(runID string) (*RunResponse, error) {
	return c.runCall("Pause", RunRequest{RunID: runID})
}

// Resume continues a paused run.
func (c *Client) Resume(runID string) (*RunResponse, error) {
	return c.runCall("Resume", RunRequest{RunID: runID})
}

// Cancel terminates a run.
func (c *Client) Cancel(runID, reason string) (*RunResponse, error) {
	return c.runCall("Cancel", RunRequest{RunID: runID, Reason: reason})
}

// Retry restarts a failed or partially completed run.
func (c *Client) Retry(runID string) (*RunResponse, error) {
	return c.runCall("Retry", RunRequest{RunID: runID})
}

// Schedule releases a run waiting in ready_to_schedule.
func (c *Client) Schedule(runID string) (*RunResponse, error) {
	return c.runCall("Schedule", RunRequest{RunID: runID})
}

// Review records a decision for one entity.
func (c *Client) Review(req ReviewRequest) (*RunResponse, error) {
	return c.runCall("Review", req)
}

// ReviewAll records one decision for every awaiting entity of a kind.
func (c *Client) ReviewAll(req ReviewAllRequest) (*RunResponse, error) {
	return c.runCall("ReviewAll", req)
}

// ReportStage reports the outcome of externally executed stage work.
func (c *Client) ReportStage(req StageReportRequest) (*RunResponse, error) {
	return c.runCall("ReportStage", req)
}

// Progress reports intra-stage progress.
func (c *Client) Progress(req ProgressRequest) (*RunResponse, error) {
	return c.runCall("Progress", req)
}

// ShowRun returns a run with its completion estimate.
func (c *Client) ShowRun(runID string) (*RunResponse, error) {
	return c.runCall("ShowRun", RunRequest{RunID: runID})
}

func (c *Client) runCall(method string, req any) (*RunResponse, error) {
	var resp RunResponse
	if err := c.call(method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns returns runs matching the request filter.
func (c *Client) ListRuns(req RunListRequest) (*RunListResponse, error) {
	var resp RunListResponse
	if err := c.call("ListRuns", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events returns a run's event journal.
func (c *Client) Events(runID string, limit int) (*RunEventsResponse, error) {
	var resp RunEventsResponse
	if err := c.call("Events", RunEventsRequest{RunID: runID, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Estimate projects a run's completion.
func (c *Client) Estimate(runID string) (*EstimateResponse, error) {
	var resp EstimateResponse
	if err := c.call("Estimate", RunRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prune removes completed and cancelled runs.
func (c *Client) Prune() (*PruneResponse, error) {
	var resp PruneResponse
	if err := c.call("Prune", PruneRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Templates lists the known templates.
func (c *Client) Templates() (*TemplateListResponse, error) {
	var resp TemplateListResponse
	if err := c.call("Templates", TemplateListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Recommend asks the daemon to pick a template.
func (c *Client) Recommend(req RecommendRequest) (*RecommendResponse, error) {
	var resp RecommendResponse
	if err := c.call("Recommend", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
