package msgsync

import (
	"iter"
	"time"

	"molva/internal/models"
)

const dateBucketLayout = "Jan 2, 2006"

// GroupedView returns a lazy, restartable sequence of (date label,
// messages) pairs over the current collection. Messages are scanned in
// collection order and bucketed under the label of their calendar day;
// buckets appear in first-seen order, not sorted. Each iteration works on
// a fresh snapshot.
func (s *Synchronizer) GroupedView() iter.Seq2[string, []models.Message] {
	return func(yield func(string, []models.Message) bool) {
		messages := s.Messages()
		if len(messages) == 0 {
			return
		}

		now := s.now()
		var labels []string
		buckets := make(map[string][]models.Message)
		for _, m := range messages {
			label := dateBucket(m.Timestamp, now)
			if _, seen := buckets[label]; !seen {
				labels = append(labels, label)
			}
			buckets[label] = append(buckets[label], m)
		}

		for _, label := range labels {
			if !yield(label, buckets[label]) {
				return
			}
		}
	}
}

// dateBucket maps a timestamp to its display label: "Today", "Yesterday",
// the weekday name inside the trailing week, or the calendar date.
func dateBucket(ts, now time.Time) string {
	days := calendarDaysAgo(ts, now)
	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days <= 7:
		return ts.Weekday().String()
	default:
		return ts.Format(dateBucketLayout)
	}
}

// calendarDaysAgo counts whole calendar-day boundaries between ts and now
// in the caller's local time zone, so 23:59 yesterday is one day ago even
// though it is minutes in the past.
func calendarDaysAgo(ts, now time.Time) int {
	y, m, d := now.Date()
	nowDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	y, m, d = ts.In(now.Location()).Date()
	tsDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	return int(nowDay.Sub(tsDay) / (24 * time.Hour))
}
