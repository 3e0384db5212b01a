// Package codeforces is the rating source client. It talks to the public
// Codeforces API (user.info, user.rating, user.status).
package codeforces

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cfprogress/internal/metrics"
	"cfprogress/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	methodUserInfo   = "user.info"
	methodUserRating = "user.rating"
	methodUserStatus = "user.status"

	statusOK = "OK"

	// upstream error bodies are small; anything bigger is not an API envelope
	maxErrorBody = 64 << 10
)

// Client fetches ratings and activity for a handle
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	metrics *metrics.Manager
	now     func() time.Time
}

// NewClient creates a client for baseURL (e.g. https://codeforces.com/api).
// timeout bounds every single request.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger, m *metrics.Manager) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger:  logger.With().Str("component", "codeforces").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

type apiUser struct {
	Handle    string `json:"handle"`
	Rating    int    `json:"rating"`
	MaxRating int    `json:"maxRating"`
	Rank      string `json:"rank"`
	MaxRank   string `json:"maxRank"`
}

type apiRatingChange struct {
	ContestID               int    `json:"contestId"`
	ContestName             string `json:"contestName"`
	Rank                    int    `json:"rank"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
	OldRating               int    `json:"oldRating"`
	NewRating               int    `json:"newRating"`
}

type apiSubmission struct {
	ID                  int64      `json:"id"`
	ContestID           int        `json:"contestId"`
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Problem             apiProblem `json:"problem"`
	Verdict             string     `json:"verdict"`
}

type apiProblem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
}

// FetchSnapshot reads the current and max rating of handle. user.info and
// user.rating are queried in parallel and both must succeed.
func (c *Client) FetchSnapshot(ctx context.Context, handle string) (models.RatingSnapshot, error) {
	var user apiUser

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := c.userInfo(gctx, handle)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	g.Go(func() error {
		_, err := c.userRating(gctx, handle)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.RatingSnapshot{}, err
	}

	return models.RatingSnapshot{
		CurrentRating: user.Rating,
		MaxRating:     user.MaxRating,
		ObservedAt:    c.now(),
	}, nil
}

// FetchDetailedProfile reads profile details, the full rating history and all
// submissions of handle.
func (c *Client) FetchDetailedProfile(ctx context.Context, handle string) (*models.DetailedProfile, error) {
	var (
		user        apiUser
		changes     []apiRatingChange
		submissions []apiSubmission
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		user, err = c.userInfo(gctx, handle)
		return err
	})
	g.Go(func() (err error) {
		changes, err = c.userRating(gctx, handle)
		return err
	})
	g.Go(func() error {
		params := url.Values{"handle": {handle}}
		return c.call(gctx, methodUserStatus, handle, params, &submissions)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	profile := &models.DetailedProfile{
		Details: models.HandleDetails{
			Handle:    user.Handle,
			Rating:    user.Rating,
			MaxRating: user.MaxRating,
			Rank:      user.Rank,
			MaxRank:   user.MaxRank,
		},
		Contests:    make([]models.ContestEntry, 0, len(changes)),
		Submissions: make([]models.Submission, 0, len(submissions)),
	}
	for _, ch := range changes {
		profile.Contests = append(profile.Contests, models.ContestEntry{
			ContestID:        ch.ContestID,
			ContestName:      ch.ContestName,
			Rank:             ch.Rank,
			OldRating:        ch.OldRating,
			NewRating:        ch.NewRating,
			RatingUpdateTime: time.Unix(ch.RatingUpdateTimeSeconds, 0).UTC(),
		})
	}
	for _, s := range submissions {
		contestID := s.Problem.ContestID
		if contestID == 0 {
			contestID = s.ContestID
		}
		profile.Submissions = append(profile.Submissions, models.Submission{
			ContestID:    contestID,
			Index:        s.Problem.Index,
			Name:         s.Problem.Name,
			Rating:       s.Problem.Rating,
			Verdict:      s.Verdict,
			CreationTime: time.Unix(s.CreationTimeSeconds, 0).UTC(),
		})
	}
	return profile, nil
}

func (c *Client) userInfo(ctx context.Context, handle string) (apiUser, error) {
	var users []apiUser
	params := url.Values{"handles": {handle}}
	if err := c.call(ctx, methodUserInfo, handle, params, &users); err != nil {
		return apiUser{}, err
	}
	if len(users) == 0 {
		return apiUser{}, &models.LookupError{Handle: handle, Comment: "handle not found"}
	}
	return users[0], nil
}

func (c *Client) userRating(ctx context.Context, handle string) ([]apiRatingChange, error) {
	var changes []apiRatingChange
	params := url.Values{"handle": {handle}}
	if err := c.call(ctx, methodUserRating, handle, params, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// call performs one API request and decodes result into out. Every failure
// is reported as *models.LookupError.
func (c *Client) call(ctx context.Context, method, handle string, params url.Values, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveUpstream(method, time.Since(start), err)
		if err != nil {
			c.logger.Debug().Err(err).Str("method", method).Str("handle", handle).Msg("codeforces request failed")
		}
	}()

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, method, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &models.LookupError{Handle: handle, Err: fmt.Errorf("build %s request: %w", method, err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &models.LookupError{Handle: handle, Err: fmt.Errorf("%s: %w", method, err)}
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody(resp.StatusCode))).Decode(&env)

	if resp.StatusCode != http.StatusOK || env.Status != statusOK {
		comment := env.Comment
		if comment == "" {
			comment = fmt.Sprintf("%s returned HTTP %d", method, resp.StatusCode)
		}
		return &models.LookupError{Handle: handle, Comment: comment}
	}
	if decodeErr != nil {
		return &models.LookupError{Handle: handle, Err: fmt.Errorf("decode %s: %w", method, decodeErr)}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &models.LookupError{Handle: handle, Err: fmt.Errorf("decode %s result: %w", method, err)}
	}
	return nil
}

func maxResponseBody(status int) int64 {
	if status == http.StatusOK {
		// user.status for prolific handles runs to tens of megabytes
		return 256 << 20
	}
	return maxErrorBody
}
