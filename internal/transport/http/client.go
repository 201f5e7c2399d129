package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"exam-session-service/internal/domain"
)

// Client is the client side of the sync protocol: it implements the
// coordinator's Remote and Catalog ports over the REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	var set domain.QuestionSet
	query := url.Values{"sessionId": {setID}}
	if err := c.get(ctx, "/questions", query, &set); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("%w: %v", domain.ErrCatalogLoad, err)
	}
	return set, nil
}

func (c *Client) FetchAnswers(ctx context.Context, userID, sessionID string) (map[string]domain.Answer, error) {
	var answers map[string]domain.Answer
	query := url.Values{"userId": {userID}, "sessionId": {sessionID}}
	if err := c.get(ctx, "/sessions/answers", query, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

func (c *Client) PushAnswer(ctx context.Context, userID, sessionID string, answer domain.Answer) error {
	return c.post(ctx, "/sessions/answers", recordAnswerRequest{
		UserID:    userID,
		SessionID: sessionID,
		Answer:    answer,
	}, nil)
}

// Verify settles an answer server-side and returns the result payload.
func (c *Client) Verify(ctx context.Context, userID, sessionID, questionID string, selected []int, isRetry bool) (domain.VerificationResult, int, int, error) {
	var result struct {
		Correct        bool  `json:"correct"`
		CorrectIndices []int `json:"correctIndices"`
		PointsAwarded  int   `json:"pointsAwarded"`
		TotalPoints    int   `json:"totalPoints"`
	}
	err := c.post(ctx, "/verify", verifyRequest{
		UserID:     userID,
		SessionID:  sessionID,
		QuestionID: questionID,
		Selected:   selected,
		IsRetry:    isRetry,
	}, &result)
	if err != nil {
		return domain.VerificationResult{}, 0, 0, err
	}
	return domain.VerificationResult{
		QuestionID:     questionID,
		UserID:         userID,
		Correct:        result.Correct,
		CorrectIndices: result.CorrectIndices,
	}, result.PointsAwarded, result.TotalPoints, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
