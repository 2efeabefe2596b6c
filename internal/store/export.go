package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"larder/internal/category"
	"larder/internal/notification"
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func ParseFormat(v string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(v))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, v)
	}
}

var csvHeader = []string{
	"id", "category", "priority", "title", "message", "source",
	"created_at", "delivered_at", "read", "read_at", "acknowledged", "acknowledged_at",
	"escalation_count", "exhausted", "group_id",
}

// Export writes the entries matching f in append order. Limit is ignored.
func (s *Store) Export(w io.Writer, format Format, f notification.Filter) (int, error) {
	f.Limit = 0
	var rows []notification.Notification
	for _, n := range s.All() {
		if f.Match(n) {
			rows = append(rows, n)
		}
	}
	switch format {
	case FormatJSON:
		if rows == nil {
			rows = []notification.Notification{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return len(rows), enc.Encode(rows)
	case FormatCSV:
		return len(rows), writeCSV(w, rows)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeCSV(w io.Writer, rows []notification.Notification) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, n := range rows {
		rec := []string{
			strconv.FormatUint(n.ID, 10),
			string(n.Category),
			strconv.Itoa(n.Priority),
			n.Title,
			n.Message,
			n.Source,
			n.CreatedAt.Format(time.RFC3339Nano),
			formatTimePtr(n.DeliveredAt),
			strconv.FormatBool(n.Read),
			formatTimePtr(n.ReadAt),
			strconv.FormatBool(n.Acknowledged),
			formatTimePtr(n.AcknowledgedAt),
			strconv.Itoa(n.EscalationCount),
			strconv.FormatBool(n.Exhausted),
			n.GroupID,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// ImportJSON reads a JSON export. The result keeps the exported order. Ids
// must be unique and every entry must carry a known category and an
// in-range priority.
func ImportJSON(r io.Reader) ([]notification.Notification, error) {
	var list []notification.Notification
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	seen := make(map[uint64]struct{}, len(list))
	for i, n := range list {
		if _, dup := seen[n.ID]; dup {
			return nil, fmt.Errorf("entry %d: duplicate id %d", i, n.ID)
		}
		seen[n.ID] = struct{}{}
		if !n.Category.Valid() {
			return nil, fmt.Errorf("entry %d: %w: %q", i, notification.ErrInvalidCategory, n.Category)
		}
		if n.Priority < category.MinPriority || n.Priority > category.MaxPriority {
			return nil, fmt.Errorf("entry %d: %w: %d", i, notification.ErrInvalidPriority, n.Priority)
		}
	}
	return list, nil
}
