// Package analytics turns a handle's raw contest and submission history into
// the statistics shown on the student profile page.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"cfprogress/internal/models"
)

const (
	// HeatmapDays is the trailing window of the activity calendar
	HeatmapDays = 365

	bucketWidth = 200
	verdictOK   = "OK"
	dateLayout  = "2006-01-02"
)

// NoHardestProblem is reported when nothing was solved in the window
var NoHardestProblem = models.HardestProblem{Name: "N/A", Rating: 0}

// Aggregate builds the profile view for windowDays ending at now. A window of
// 0 (or less) means the full history. The heatmap always covers the trailing
// HeatmapDays regardless of the window and carries one entry per submission.
func Aggregate(profile models.DetailedProfile, windowDays int, now time.Time) models.ProfileView {
	filtered := windowDays > 0
	var cutoff time.Time
	if filtered {
		cutoff = now.AddDate(0, 0, -windowDays)
	}
	inWindow := func(t time.Time) bool {
		return !filtered || t.After(cutoff)
	}

	return models.ProfileView{
		Details:        profile.Details,
		ContestHistory: contestHistory(profile.Contests, inWindow),
		ProblemStats:   problemStats(profile.Submissions, inWindow, windowDays),
		HeatmapData:    heatmap(profile.Submissions, now),
	}
}

// contestHistory keeps the contests inside the window, newest first
func contestHistory(contests []models.ContestEntry, inWindow func(time.Time) bool) []models.ContestEntry {
	out := make([]models.ContestEntry, 0, len(contests))
	for _, c := range contests {
		if inWindow(c.RatingUpdateTime) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RatingUpdateTime.After(out[j].RatingUpdateTime)
	})
	return out
}

func problemStats(submissions []models.Submission, inWindow func(time.Time) bool, windowDays int) models.ProblemStats {
	stats := models.ProblemStats{
		HardestProblem: NoHardestProblem,
		RatingBuckets:  make(map[int]int),
	}

	solved := make(map[string]struct{})
	sum := 0
	found := false
	for _, s := range submissions {
		if s.Verdict != verdictOK || !inWindow(s.CreationTime) {
			continue
		}
		key := problemKey(s)
		if _, seen := solved[key]; seen {
			continue
		}
		solved[key] = struct{}{}

		stats.TotalSolved++
		sum += s.Rating
		stats.RatingBuckets[bucketOf(s.Rating)]++

		// Any solve replaces the sentinel, unrated ones included
		if !found || s.Rating > stats.HardestProblem.Rating {
			found = true
			stats.HardestProblem = models.HardestProblem{
				Name:      s.Name,
				Rating:    s.Rating,
				ContestID: s.ContestID,
				Index:     s.Index,
			}
		}
	}

	if stats.TotalSolved > 0 {
		stats.AverageRating = int(math.Round(float64(sum) / float64(stats.TotalSolved)))
	}
	if windowDays > 0 {
		stats.AverageProblemsPerDay = roundTo(float64(stats.TotalSolved)/float64(windowDays), 2)
	}
	return stats
}

// heatmap emits one {date, 1} entry per submission in the trailing year,
// dated in now's location.
func heatmap(submissions []models.Submission, now time.Time) []models.HeatmapEntry {
	cutoff := now.AddDate(0, 0, -HeatmapDays)
	out := make([]models.HeatmapEntry, 0, len(submissions))
	for _, s := range submissions {
		if !s.CreationTime.After(cutoff) {
			continue
		}
		out = append(out, models.HeatmapEntry{
			Date:  s.CreationTime.In(now.Location()).Format(dateLayout),
			Count: 1,
		})
	}
	return out
}

func problemKey(s models.Submission) string {
	return fmt.Sprintf("%d-%s", s.ContestID, s.Index)
}

func bucketOf(rating int) int {
	return int(math.Floor(float64(rating)/bucketWidth)) * bucketWidth
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
