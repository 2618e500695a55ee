package payments

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// sortColumns whitelists API sort fields and maps them to SQL columns.
// Order-side fields map to o.*; the rest come from the joined current
// status event.
var sortColumns = map[string]string{
	"createdAt":          "o.created_at",
	"created_at":         "o.created_at",
	"school_id":          "o.school_id",
	"student_name":       "o.student_name",
	"student_email":      "o.student_email",
	"payment_time":       "s.payment_time",
	"status":             "s.status",
	"order_amount":       "s.order_amount",
	"transaction_amount": "s.transaction_amount",
}

// TransactionQuery holds the parsed filter, sort and pagination parameters of
// a transaction listing request.
type TransactionQuery struct {
	Limit     int
	Page      int // 1-based
	SortField string
	SortDesc  bool
	Statuses  []string
	SchoolIDs []string
	StartDate *time.Time
	EndDate   *time.Time
	Search    string
}

// ParseTransactionQuery parses and validates listing parameters from a query
// string. Unknown sort fields and unparseable dates are rejected.
func ParseTransactionQuery(values url.Values) (*TransactionQuery, error) {
	q := &TransactionQuery{
		Limit:     defaultLimit,
		Page:      1,
		SortField: "createdAt",
		SortDesc:  true,
	}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid limit %q", v)
		}
		if n > maxLimit {
			n = maxLimit
		}
		q.Limit = n
	}

	if v := values.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid page %q", v)
		}
		q.Page = n
	}

	if v := values.Get("sort"); v != "" {
		if _, ok := sortColumns[v]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSortField, v)
		}
		q.SortField = v
	}

	if v := values.Get("order"); v != "" {
		q.SortDesc = !strings.EqualFold(v, "asc")
	}

	if v := values.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				q.Statuses = append(q.Statuses, strings.ToUpper(s))
			}
		}
	}

	if v := values.Get("school_id"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				q.SchoolIDs = append(q.SchoolIDs, s)
			}
		}
	}

	if v := values.Get("start_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date %q", v)
		}
		q.StartDate = &t
	}

	if v := values.Get("end_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date %q", v)
		}
		q.EndDate = &t
	}

	q.Search = strings.TrimSpace(values.Get("search"))

	return q, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// transactionFromClause is the shared join pipeline: every order left-joined
// with its single newest status event. Orders without events keep a null
// status side.
const transactionFromClause = `
	FROM orders o
	LEFT JOIN LATERAL (
		SELECT e.id, e.order_ref, e.status, e.order_amount, e.transaction_amount,
		       e.payment_time, e.created_at
		FROM status_events e
		WHERE e.order_ref = o.id
		ORDER BY e.created_at DESC, e.seq DESC
		LIMIT 1
	) s ON TRUE`

// buildTransactionFilter renders the WHERE fragment and arguments shared by
// the data and count queries. schoolID, when non-empty, scopes the view before
// the caller-supplied filters apply. All dimensions combine with AND; a row
// with no payment_time never matches a date-range filter because NULL
// comparisons are not true.
func buildTransactionFilter(q *TransactionQuery, schoolID string) (string, []any) {
	var conds []string
	var args []any

	if schoolID != "" {
		args = append(args, schoolID)
		conds = append(conds, fmt.Sprintf("o.school_id = $%d", len(args)))
	}

	if len(q.Statuses) > 0 {
		args = append(args, q.Statuses)
		conds = append(conds, fmt.Sprintf("s.status = ANY($%d)", len(args)))
	}

	if len(q.SchoolIDs) > 0 {
		args = append(args, q.SchoolIDs)
		conds = append(conds, fmt.Sprintf("o.school_id = ANY($%d)", len(args)))
	}

	if q.StartDate != nil {
		args = append(args, *q.StartDate)
		conds = append(conds, fmt.Sprintf("s.payment_time >= $%d", len(args)))
	}

	if q.EndDate != nil {
		args = append(args, *q.EndDate)
		conds = append(conds, fmt.Sprintf("s.payment_time <= $%d", len(args)))
	}

	if q.Search != "" {
		args = append(args, "%"+escapeLike(q.Search)+"%")
		conds = append(conds, fmt.Sprintf("(o.student_name ILIKE $%d OR o.student_email ILIKE $%d)", len(args), len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildTransactionListSQL renders the paginated data query. The order id is
// appended as a same-direction tie-break so pagination stays stable when the
// primary sort key has duplicates.
func buildTransactionListSQL(q *TransactionQuery, schoolID string) (string, []any) {
	where, args := buildTransactionFilter(q, schoolID)

	dir := "DESC"
	if !q.SortDesc {
		dir = "ASC"
	}

	args = append(args, q.Limit)
	limitArg := len(args)
	args = append(args, (q.Page-1)*q.Limit)
	offsetArg := len(args)

	sql := `SELECT o.id, s.order_ref, o.school_id, o.gateway_name, s.order_amount,
	       s.transaction_amount, s.status, s.payment_time, o.created_at` +
		transactionFromClause + where +
		fmt.Sprintf(" ORDER BY %s %s, o.id %s", sortColumns[q.SortField], dir, dir) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", limitArg, offsetArg)

	return sql, args
}

// buildTransactionCountSQL renders the unpaginated total over the same
// join+filter pipeline.
func buildTransactionCountSQL(q *TransactionQuery, schoolID string) (string, []any) {
	where, args := buildTransactionFilter(q, schoolID)
	return "SELECT COUNT(*)" + transactionFromClause + where, args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
