package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// graphqlRequest is the standard GraphQL POST envelope.
type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// graphql executes a query against the GraphQL endpoint and decodes the data
// object into result.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, c.userToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("failed to parse data: %w", err)
		}
	}
	return nil
}

// DiscussionByNode fetches a discussion by its durable node identifier. The
// node id survives repository renames and locator drift, unlike the REST
// subject URL. Returns nil when the node is not a discussion.
func (c *Client) DiscussionByNode(ctx context.Context, nodeID string) (*Discussion, error) {
	const query = `query($id:ID!){node(id:$id){...on Discussion{number title body author{login}}}}`

	var data struct {
		Node *Discussion `json:"node"`
	}
	if err := c.graphql(ctx, query, map[string]interface{}{"id": nodeID}, &data); err != nil {
		return nil, err
	}
	if data.Node == nil || data.Node.Number == 0 {
		return nil, nil
	}
	return data.Node, nil
}

// ListDiscussionComments fetches the comments of a discussion with one level
// of threaded replies.
func (c *Client) ListDiscussionComments(ctx context.Context, owner, name string, number int) ([]*DiscussionComment, error) {
	const query = `query($owner:String!,$name:String!,$number:Int!){
  repository(owner:$owner,name:$name){
    discussion(number:$number){
      comments(first:100){
        nodes{
          id body createdAt author{login}
          replies(first:100){nodes{id body createdAt author{login}}}
        }
      }
    }
  }
}`

	type commentNode struct {
		DiscussionComment
		RepliesConn struct {
			Nodes []*DiscussionComment `json:"nodes"`
		} `json:"replies"`
	}
	var data struct {
		Repository struct {
			Discussion struct {
				Comments struct {
					Nodes []commentNode `json:"nodes"`
				} `json:"comments"`
			} `json:"discussion"`
		} `json:"repository"`
	}

	variables := map[string]interface{}{
		"owner":  owner,
		"name":   name,
		"number": number,
	}
	if err := c.graphql(ctx, query, variables, &data); err != nil {
		return nil, err
	}

	var comments []*DiscussionComment
	for _, node := range data.Repository.Discussion.Comments.Nodes {
		comment := node.DiscussionComment
		comment.Replies = node.RepliesConn.Nodes
		comments = append(comments, &comment)
	}
	return comments, nil
}
