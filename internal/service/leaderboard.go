package service

import (
	"context"
	"fmt"

	"cfprogress/internal/models"
	"cfprogress/internal/repository"

	"github.com/rs/zerolog"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
)

// LeaderboardService ranks students by their current rating
type LeaderboardService struct {
	store  repository.StudentStore
	board  repository.Board
	logger zerolog.Logger
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(store repository.StudentStore, board repository.Board, logger zerolog.Logger) *LeaderboardService {
	return &LeaderboardService{
		store:  store,
		board:  board,
		logger: logger.With().Str("component", "leaderboard").Logger(),
	}
}

// GetLeaderboard retrieves a page of the board with tie-aware ranking (1224)
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, offset, limit int) (*models.LeaderboardResponse, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	entries, err := s.board.GetTop(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top students: %w", err)
	}

	total, err := s.board.GetTotal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get board size: %w", err)
	}

	ranked, err := s.applyTieAwareRanking(ctx, entries, offset)
	if err != nil {
		return nil, err
	}

	return &models.LeaderboardResponse{
		Data:   ranked,
		Offset: offset,
		Limit:  limit,
		Total:  total,
	}, nil
}

// applyTieAwareRanking applies the 1224 ranking system. Equal ratings share a
// rank and a new rating takes its 1-based position on the board. A page that
// starts inside a tie asks the board for the global rank of its first entry.
func (s *LeaderboardService) applyTieAwareRanking(ctx context.Context, entries []models.BoardEntry, offset int) ([]models.LeaderboardEntry, error) {
	ranked := make([]models.LeaderboardEntry, 0, len(entries))
	if len(entries) == 0 {
		return ranked, nil
	}

	currentRank := offset + 1
	if offset > 0 {
		rank, _, err := s.board.GetRank(ctx, entries[0].Handle)
		if err != nil {
			return nil, fmt.Errorf("failed to rank %s: %w", entries[0].Handle, err)
		}
		currentRank = rank
	}

	previousRating := entries[0].Rating
	for i, e := range entries {
		if e.Rating != previousRating {
			currentRank = offset + i + 1
			previousRating = e.Rating
		}
		ranked = append(ranked, models.LeaderboardEntry{
			Rank:   currentRank,
			Handle: e.Handle,
			Rating: e.Rating,
		})
	}
	return ranked, nil
}

// SearchHandle returns the global rank and rating of handle
func (s *LeaderboardService) SearchHandle(ctx context.Context, handle string) (*models.RankResponse, error) {
	rank, rating, err := s.board.GetRank(ctx, handle)
	if err != nil {
		return nil, err
	}

	return &models.RankResponse{
		GlobalRank: rank,
		Handle:     handle,
		Rating:     rating,
	}, nil
}

// RebuildBoard replaces the board with the ratings in the store. Used at
// startup and for recovery after the board was lost.
func (s *LeaderboardService) RebuildBoard(ctx context.Context) error {
	students, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load students: %w", err)
	}

	ratings := make(map[string]int, len(students))
	for _, st := range students {
		ratings[st.CodeForcesHandle] = st.CurrentRating
	}

	if err := s.board.BulkUpdateRatings(ctx, ratings); err != nil {
		return fmt.Errorf("failed to rebuild board: %w", err)
	}

	s.logger.Info().Int("students", len(students)).Msg("rating board rebuilt")
	return nil
}

// HealthCheck checks the health of the store and the board
func (s *LeaderboardService) HealthCheck(ctx context.Context) error {
	if err := s.board.Ping(ctx); err != nil {
		return fmt.Errorf("board health check failed: %w", err)
	}

	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}

	return nil
}
