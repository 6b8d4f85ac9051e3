package ghclient

import (
	"context"
	"fmt"
	"time"
)

// Item is one issue or pull request returned by a repository scan.
type Item struct {
	Number    int
	Title     string
	Author    string
	URL       string
	UpdatedAt time.Time
	ClosedAt  *time.Time
	IsPR      bool
}

const searchIssuesQuery = `
query($query: String!, $cursor: String) {
  search(query: $query, type: ISSUE, first: 100, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    nodes {
      __typename
      ... on Issue {
        number title url updatedAt closedAt
        author { login }
      }
      ... on PullRequest {
        number title url updatedAt closedAt
        author { login }
      }
    }
  }
}`

type searchIssuesData struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []struct {
			Typename  string     `json:"__typename"`
			Number    int        `json:"number"`
			Title     string     `json:"title"`
			URL       string     `json:"url"`
			UpdatedAt time.Time  `json:"updatedAt"`
			ClosedAt  *time.Time `json:"closedAt"`
			Author    struct {
				Login string `json:"login"`
			} `json:"author"`
		} `json:"nodes"`
	} `json:"search"`
}

// ListIssuesAndPRs returns every issue and pull request in the repository
// updated at or after since, oldest first. A nil since is an unbounded
// scan — the full backfill performed on a repository's first run.
func (c *Client) ListIssuesAndPRs(ctx context.Context, repository string, since *time.Time) ([]Item, error) {
	if _, _, err := splitRepository(repository); err != nil {
		return nil, err
	}

	search := fmt.Sprintf("repo:%s sort:updated-asc", repository)
	if since != nil {
		search = fmt.Sprintf("repo:%s updated:>=%s sort:updated-asc", repository, since.UTC().Format(time.RFC3339))
	}

	var items []Item
	var cursor *string
	for {
		variables := map[string]any{"query": search}
		if cursor != nil {
			variables["cursor"] = *cursor
		}

		var data searchIssuesData
		if err := c.execute(ctx, searchIssuesQuery, variables, &data); err != nil {
			return nil, fmt.Errorf("listing issues and PRs for %s: %w", repository, err)
		}

		for _, node := range data.Search.Nodes {
			items = append(items, Item{
				Number:    node.Number,
				Title:     node.Title,
				Author:    node.Author.Login,
				URL:       node.URL,
				UpdatedAt: node.UpdatedAt,
				ClosedAt:  node.ClosedAt,
				IsPR:      node.Typename == "PullRequest",
			})
		}

		if !data.Search.PageInfo.HasNextPage {
			break
		}
		end := data.Search.PageInfo.EndCursor
		cursor = &end
	}
	return items, nil
}
