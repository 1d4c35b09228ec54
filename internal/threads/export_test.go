package threads

// SetBaseURL points the client at a test server.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}
