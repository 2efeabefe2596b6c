package store

import (
	"time"

	"larder/internal/category"
	"larder/internal/notification"
)

const (
	HourlyBuckets = 24
	DailyBuckets  = 7
)

// Bucket counts notifications created in [Start, Start+width).
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Trend compares today with yesterday.
type Trend struct {
	Today     int     `json:"today"`
	Yesterday int     `json:"yesterday"`
	Percent   float64 `json:"percent"`
}

// Snapshot is derived from the log and never stored.
type Snapshot struct {
	At           time.Time `json:"at"`
	Total        int       `json:"total"`
	Unread       int       `json:"unread"`
	Today        int       `json:"today"`
	Critical     int       `json:"critical"`
	Acknowledged int       `json:"acknowledged"`
	Escalated    int       `json:"escalated"`
	Exhausted    int       `json:"exhausted"`
	Suppressed   int       `json:"suppressed"`

	ByCategory           map[category.Category]int `json:"by_category"`
	ByPriorityBand       map[string]int            `json:"by_priority_band"`
	SuppressedByCategory map[category.Category]int `json:"suppressed_by_category"`

	Hourly     []Bucket `json:"hourly"`
	Daily      []Bucket `json:"daily"`
	DayOverDay Trend    `json:"day_over_day"`
}

// Snapshot computes analytics over the current log.
func (s *Store) Snapshot(now time.Time, loc *time.Location) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Compute(s.log, s.suppressed, now, loc)
}

// Compute reduces a log and a suppression ledger to a Snapshot. Days and
// hours are taken in loc (time.Local when nil).
func Compute(log []notification.Notification, suppressed []Suppression, now time.Time, loc *time.Location) Snapshot {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	today := startOfDay(now)
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc)

	snap := Snapshot{
		At:                   now,
		ByCategory:           map[category.Category]int{},
		ByPriorityBand:       map[string]int{},
		SuppressedByCategory: map[category.Category]int{},
		Hourly:               make([]Bucket, HourlyBuckets),
		Daily:                make([]Bucket, DailyBuckets),
	}
	for _, b := range notification.Bands {
		snap.ByPriorityBand[b] = 0
	}
	firstHour := hour.Add(-(HourlyBuckets - 1) * time.Hour)
	for i := range snap.Hourly {
		snap.Hourly[i].Start = firstHour.Add(time.Duration(i) * time.Hour)
	}
	firstDay := today.AddDate(0, 0, -(DailyBuckets - 1))
	for i := range snap.Daily {
		snap.Daily[i].Start = firstDay.AddDate(0, 0, i)
	}

	for _, n := range log {
		snap.Total++
		if !n.Read {
			snap.Unread++
		}
		if n.Acknowledged {
			snap.Acknowledged++
		}
		if n.Outstanding() {
			snap.Critical++
		}
		if n.EscalationCount > 0 {
			snap.Escalated++
		}
		if n.Exhausted && !n.Acknowledged {
			snap.Exhausted++
		}
		snap.ByCategory[n.Category]++
		snap.ByPriorityBand[notification.Band(n.Priority)]++

		created := n.CreatedAt.In(loc)
		switch {
		case !created.Before(today) && created.Before(tomorrow):
			snap.Today++
		case !created.Before(yesterday) && created.Before(today):
			snap.DayOverDay.Yesterday++
		}
		if !created.Before(firstHour) && created.Before(hour.Add(time.Hour)) {
			snap.Hourly[int(created.Sub(firstHour)/time.Hour)].Count++
		}
		if !created.Before(firstDay) && created.Before(tomorrow) {
			for i := len(snap.Daily) - 1; i >= 0; i-- {
				if !created.Before(snap.Daily[i].Start) {
					snap.Daily[i].Count++
					break
				}
			}
		}
	}
	for _, e := range suppressed {
		snap.Suppressed++
		snap.SuppressedByCategory[e.Category]++
	}

	snap.DayOverDay.Today = snap.Today
	snap.DayOverDay.Percent = percentChange(snap.DayOverDay.Yesterday, snap.Today)
	return snap
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func percentChange(from, to int) float64 {
	if from == 0 {
		if to == 0 {
			return 0
		}
		return 100
	}
	return float64(to-from) / float64(from) * 100
}
