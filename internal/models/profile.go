package models

import "time"

// RatingSnapshot is a point-in-time rating read for a handle
type RatingSnapshot struct {
	CurrentRating int       `json:"currentRating"`
	MaxRating     int       `json:"maxRating"`
	ObservedAt    time.Time `json:"observedAt"`
}

// HandleDetails is the public profile of a handle on the rating platform
type HandleDetails struct {
	Handle    string `json:"handle"`
	Rating    int    `json:"rating"`
	MaxRating int    `json:"maxRating"`
	Rank      string `json:"rank"`
	MaxRank   string `json:"maxRank,omitempty"`
}

// ContestEntry is one rated contest participation
type ContestEntry struct {
	ContestID        int       `json:"contestId"`
	ContestName      string    `json:"contestName"`
	Rank             int       `json:"rank"`
	OldRating        int       `json:"oldRating"`
	NewRating        int       `json:"newRating"`
	RatingUpdateTime time.Time `json:"ratingUpdateTime"`
}

// Submission is one submission made by a handle
type Submission struct {
	ContestID    int       `json:"contestId"`
	Index        string    `json:"index"`
	Name         string    `json:"name"`
	Rating       int       `json:"rating"`
	Verdict      string    `json:"verdict"`
	CreationTime time.Time `json:"creationTime"`
}

// DetailedProfile aggregates everything the profile view needs for one handle
type DetailedProfile struct {
	Details     HandleDetails  `json:"details"`
	Contests    []ContestEntry `json:"contests"`
	Submissions []Submission   `json:"submissions"`
}

// HardestProblem is the highest-rated solved problem
type HardestProblem struct {
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
	ContestID int    `json:"contestId,omitempty"`
	Index     string `json:"index,omitempty"`
}

// ProblemStats summarizes solved problems inside a time window
type ProblemStats struct {
	TotalSolved           int            `json:"totalSolved"`
	HardestProblem        HardestProblem `json:"hardestProblem"`
	AverageRating         int            `json:"averageRating"`
	AverageProblemsPerDay float64        `json:"averageProblemsPerDay"`
	RatingBuckets         map[int]int    `json:"ratingBuckets"`
}

// HeatmapEntry is one submission placed on the activity calendar
type HeatmapEntry struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ProfileView is the presentation model returned by the profile endpoint
type ProfileView struct {
	Details        HandleDetails  `json:"details"`
	ContestHistory []ContestEntry `json:"contestHistory"`
	ProblemStats   ProblemStats   `json:"problemStats"`
	HeatmapData    []HeatmapEntry `json:"heatmapData"`
}
