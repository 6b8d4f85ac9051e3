package ghclient

import (
	"context"
	"fmt"
)

// CommentResult describes a created comment or review.
type CommentResult struct {
	ID    string
	URL   string
	Body  string
	State string
}

const prIDQuery = `
query($owner: String!, $repo: String!, $prNumber: Int!) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $prNumber) { id }
  }
}`

type prIDData struct {
	Repository struct {
		PullRequest struct {
			ID string `json:"id"`
		} `json:"pullRequest"`
	} `json:"repository"`
}

func (c *Client) pullRequestID(ctx context.Context, owner, name string, number int) (string, error) {
	var data prIDData
	err := c.execute(ctx, prIDQuery, map[string]any{"owner": owner, "repo": name, "prNumber": number}, &data)
	if err != nil {
		return "", err
	}
	if data.Repository.PullRequest.ID == "" {
		return "", fmt.Errorf("pull request %s/%s#%d not found", owner, name, number)
	}
	return data.Repository.PullRequest.ID, nil
}

const addCommentMutation = `
mutation($input: AddCommentInput!) {
  addComment(input: $input) {
    commentEdge {
      node { id url body }
    }
  }
}`

type addCommentData struct {
	AddComment struct {
		CommentEdge struct {
			Node struct {
				ID   string `json:"id"`
				URL  string `json:"url"`
				Body string `json:"body"`
			} `json:"node"`
		} `json:"commentEdge"`
	} `json:"addComment"`
}

// AddPRComment creates a general comment on a pull request, not tied to any
// file or line.
func (c *Client) AddPRComment(ctx context.Context, repository string, number int, body string) (CommentResult, error) {
	owner, name, err := splitRepository(repository)
	if err != nil {
		return CommentResult{}, err
	}
	subjectID, err := c.pullRequestID(ctx, owner, name, number)
	if err != nil {
		return CommentResult{}, fmt.Errorf("resolving PR id: %w", err)
	}

	var data addCommentData
	input := map[string]any{"subjectId": subjectID, "body": body}
	if err := c.execute(ctx, addCommentMutation, map[string]any{"input": input}, &data); err != nil {
		return CommentResult{}, fmt.Errorf("adding comment on %s#%d: %w", repository, number, err)
	}
	node := data.AddComment.CommentEdge.Node
	return CommentResult{ID: node.ID, URL: node.URL, Body: node.Body}, nil
}

const addReviewThreadMutation = `
mutation($input: AddPullRequestReviewThreadInput!) {
  addPullRequestReviewThread(input: $input) {
    thread {
      id
      comments(first: 1) {
        nodes { id url body }
      }
    }
  }
}`

type addReviewThreadData struct {
	AddPullRequestReviewThread struct {
		Thread struct {
			ID       string `json:"id"`
			Comments struct {
				Nodes []struct {
					ID   string `json:"id"`
					URL  string `json:"url"`
					Body string `json:"body"`
				} `json:"nodes"`
			} `json:"comments"`
		} `json:"thread"`
	} `json:"addPullRequestReviewThread"`
}

const pendingReviewQuery = `
query($owner: String!, $repo: String!, $prNumber: Int!) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $prNumber) {
      reviews(last: 1, states: [PENDING]) {
        nodes { id }
      }
    }
  }
}`

type pendingReviewData struct {
	Repository struct {
		PullRequest struct {
			Reviews struct {
				Nodes []struct {
					ID string `json:"id"`
				} `json:"nodes"`
			} `json:"reviews"`
		} `json:"pullRequest"`
	} `json:"repository"`
}

const submitReviewMutation = `
mutation($input: SubmitPullRequestReviewInput!) {
  submitPullRequestReview(input: $input) {
    pullRequestReview { id url state body }
  }
}`

type submitReviewData struct {
	SubmitPullRequestReview struct {
		PullRequestReview struct {
			ID    string `json:"id"`
			URL   string `json:"url"`
			State string `json:"state"`
			Body  string `json:"body"`
		} `json:"pullRequestReview"`
	} `json:"submitPullRequestReview"`
}

// AddReviewComment creates a review comment on a specific line of a file in
// a pull request. When reviewEvent is empty the review is left pending;
// otherwise the pending review is submitted with that event (APPROVE,
// REQUEST_CHANGES or COMMENT).
func (c *Client) AddReviewComment(ctx context.Context, repository string, number int, filePath string, line int, body, reviewEvent string) (CommentResult, error) {
	owner, name, err := splitRepository(repository)
	if err != nil {
		return CommentResult{}, err
	}
	prID, err := c.pullRequestID(ctx, owner, name, number)
	if err != nil {
		return CommentResult{}, fmt.Errorf("resolving PR id: %w", err)
	}

	var threadData addReviewThreadData
	input := map[string]any{
		"pullRequestId": prID,
		"path":          filePath,
		"body":          body,
		"line":          line,
	}
	if err := c.execute(ctx, addReviewThreadMutation, map[string]any{"input": input}, &threadData); err != nil {
		return CommentResult{}, fmt.Errorf("adding review thread on %s#%d: %w", repository, number, err)
	}
	nodes := threadData.AddPullRequestReviewThread.Thread.Comments.Nodes
	if len(nodes) == 0 {
		return CommentResult{}, fmt.Errorf("review thread created without a comment on %s#%d", repository, number)
	}

	if reviewEvent == "" {
		node := nodes[0]
		return CommentResult{ID: node.ID, URL: node.URL, Body: node.Body, State: "PENDING"}, nil
	}

	var pending pendingReviewData
	vars := map[string]any{"owner": owner, "repo": name, "prNumber": number}
	if err := c.execute(ctx, pendingReviewQuery, vars, &pending); err != nil {
		return CommentResult{}, fmt.Errorf("finding pending review: %w", err)
	}
	reviews := pending.Repository.PullRequest.Reviews.Nodes
	if len(reviews) == 0 {
		return CommentResult{}, fmt.Errorf("no pending review found after creating review thread")
	}

	var submitted submitReviewData
	submitInput := map[string]any{"pullRequestReviewId": reviews[0].ID, "event": reviewEvent}
	if err := c.execute(ctx, submitReviewMutation, map[string]any{"input": submitInput}, &submitted); err != nil {
		return CommentResult{}, fmt.Errorf("submitting review on %s#%d: %w", repository, number, err)
	}
	review := submitted.SubmitPullRequestReview.PullRequestReview
	return CommentResult{ID: review.ID, URL: review.URL, Body: review.Body, State: review.State}, nil
}
