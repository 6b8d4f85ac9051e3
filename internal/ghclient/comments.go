package ghclient

import (
	"context"
	"fmt"
	"time"
)

// Comment is one issue or PR comment.
type Comment struct {
	Author    string
	CreatedAt time.Time
	URL       string
}

const issueCommentsQuery = `
query($owner: String!, $repo: String!, $number: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    issue(number: $number) {
      comments(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes {
          author { login }
          createdAt
          url
        }
      }
    }
  }
}`

const prCommentsQuery = `
query($owner: String!, $repo: String!, $number: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $number) {
      comments(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes {
          author { login }
          createdAt
          url
        }
      }
    }
  }
}`

type commentConnection struct {
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
	Nodes []struct {
		Author struct {
			Login string `json:"login"`
		} `json:"author"`
		CreatedAt time.Time `json:"createdAt"`
		URL       string    `json:"url"`
	} `json:"nodes"`
}

type issueCommentsData struct {
	Repository struct {
		Issue struct {
			Comments commentConnection `json:"comments"`
		} `json:"issue"`
	} `json:"repository"`
}

type prCommentsData struct {
	Repository struct {
		PullRequest struct {
			Comments commentConnection `json:"comments"`
		} `json:"pullRequest"`
	} `json:"repository"`
}

// ListIssueComments returns the comments on an issue created strictly after
// since, oldest first. A nil since returns the full comment history.
func (c *Client) ListIssueComments(ctx context.Context, repository string, number int, since *time.Time) ([]Comment, error) {
	return c.listComments(ctx, repository, number, since, false)
}

// ListPRComments returns the comments on a pull request created strictly
// after since, oldest first. A nil since returns the full comment history.
func (c *Client) ListPRComments(ctx context.Context, repository string, number int, since *time.Time) ([]Comment, error) {
	return c.listComments(ctx, repository, number, since, true)
}

func (c *Client) listComments(ctx context.Context, repository string, number int, since *time.Time, pr bool) ([]Comment, error) {
	owner, name, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	var comments []Comment
	var cursor *string
	for {
		variables := map[string]any{"owner": owner, "repo": name, "number": number}
		if cursor != nil {
			variables["cursor"] = *cursor
		}

		var conn commentConnection
		if pr {
			var data prCommentsData
			if err := c.execute(ctx, prCommentsQuery, variables, &data); err != nil {
				return nil, fmt.Errorf("listing PR comments for %s#%d: %w", repository, number, err)
			}
			conn = data.Repository.PullRequest.Comments
		} else {
			var data issueCommentsData
			if err := c.execute(ctx, issueCommentsQuery, variables, &data); err != nil {
				return nil, fmt.Errorf("listing issue comments for %s#%d: %w", repository, number, err)
			}
			conn = data.Repository.Issue.Comments
		}

		for _, node := range conn.Nodes {
			if since != nil && !node.CreatedAt.After(*since) {
				continue
			}
			comments = append(comments, Comment{
				Author:    node.Author.Login,
				CreatedAt: node.CreatedAt,
				URL:       node.URL,
			})
		}

		if !conn.PageInfo.HasNextPage {
			break
		}
		end := conn.PageInfo.EndCursor
		cursor = &end
	}
	return comments, nil
}
