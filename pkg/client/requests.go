package client

import (
	"context"

	"github.com/grovetools/appshell/pkg/protocol"
)

// SelectDirectory selects the project directory.
func (c *Client) SelectDirectory(ctx context.Context, dir string) error {
	return c.request(ctx, protocol.DatabaseSelect, map[string]interface{}{"projectDirectory": dir}, nil)
}

// Load loads a product. A nil product re-confirms the current one.
func (c *Client) Load(ctx context.Context, product *string, force bool) error {
	return c.request(ctx, protocol.DatabaseLoad, map[string]interface{}{"product": product, "force": force}, nil)
}

// Save writes the loaded product back to disk.
func (c *Client) Save(ctx context.Context) error {
	return c.request(ctx, protocol.DatabaseSave, nil, nil)
}

// Unload discards the loaded product.
func (c *Client) Unload(ctx context.Context) error {
	return c.request(ctx, protocol.DatabaseUnload, nil, nil)
}

// RefreshStatus asks for a fresh snapshot and returns it.
func (c *Client) RefreshStatus(ctx context.Context) (*protocol.Status, error) {
	call := c.channel.Go(protocol.DatabaseStatus, nil)
	if _, err := call.Wait(ctx); err != nil {
		return nil, err
	}
	return call.Status.Clone(), nil
}

// Query returns the documents matching req.
func (c *Client) Query(ctx context.Context, req protocol.QueryRequest) ([]map[string]interface{}, error) {
	var docs []map[string]interface{}
	err := c.request(ctx, protocol.ContentQuery, req, &docs)
	return docs, err
}

// ResultSet runs an action pipeline. The result is a document list or a count.
func (c *Client) ResultSet(ctx context.Context, req protocol.ResultSetRequest) (interface{}, error) {
	var out interface{}
	err := c.request(ctx, protocol.ContentResultSet, req, &out)
	return out, err
}

// Compound runs a compound operation.
func (c *Client) Compound(ctx context.Context, req protocol.CompoundRequest) (interface{}, error) {
	var out interface{}
	err := c.request(ctx, protocol.ContentCompound, req, &out)
	return out, err
}

// Insert adds one document or a list of documents.
func (c *Client) Insert(ctx context.Context, req protocol.DocumentRequest) (interface{}, error) {
	var out interface{}
	err := c.request(ctx, protocol.ContentInsert, req, &out)
	return out, err
}

// Update replaces documents matched by identifier.
func (c *Client) Update(ctx context.Context, req protocol.DocumentRequest) error {
	return c.request(ctx, protocol.ContentUpdate, req, nil)
}

// Remove deletes documents.
func (c *Client) Remove(ctx context.Context, req protocol.DocumentRequest) error {
	return c.request(ctx, protocol.ContentRemove, req, nil)
}

// UpdateStatus returns the update manager snapshot.
func (c *Client) UpdateStatus(ctx context.Context) (*protocol.UpdateStatus, error) {
	var st protocol.UpdateStatus
	if err := c.request(ctx, protocol.AppUpdateStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CheckForUpdates triggers an update check.
func (c *Client) CheckForUpdates(ctx context.Context) (*protocol.UpdateCheckResult, error) {
	var res protocol.UpdateCheckResult
	if err := c.request(ctx, protocol.AppUpdateCheck, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// InstallUpdate installs a downloaded update.
func (c *Client) InstallUpdate(ctx context.Context) error {
	return c.request(ctx, protocol.AppUpdateInstall, nil, nil)
}

// SelectChannel switches the update channel.
func (c *Client) SelectChannel(ctx context.Context, channel string) error {
	return c.request(ctx, protocol.AppUpdateChannelSelect, channel, nil)
}
