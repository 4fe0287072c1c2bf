/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/models"
)

// PostgresImporter reads a legacy staffing database. The schema it expects
// is the one the old planner wrote: roster_config, shift_types,
// shift_successions, staff, staff_shift_limits, days_off, shift_requests
// and cover_requirements.
type PostgresImporter struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewPostgresImporter creates the importer writing into db.
func NewPostgresImporter(db *gorm.DB, logger zerolog.Logger) *PostgresImporter {
	return &PostgresImporter{
		db:     db,
		logger: logger.With().Str("component", "postgres_importer").Logger(),
	}
}

// Validate checks the DSN and that the legacy database answers.
func (p *PostgresImporter) Validate(ctx context.Context, opts Options) error {
	if opts.DSN == "" {
		return fmt.Errorf("postgres importer requires a DSN")
	}

	src, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return fmt.Errorf("open legacy database: %w", err)
	}
	defer src.Close()

	if err := src.PingContext(ctx); err != nil {
		return fmt.Errorf("ping legacy database: %w", err)
	}
	return nil
}

// Analyze reads the source and reports counts without writing.
func (p *PostgresImporter) Analyze(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	in, err := p.read(ctx, opts, result)
	if err != nil {
		return nil, err
	}
	countInstance(in, result)
	return result, nil
}

// Import reads the source and stores the synthesized instance.
func (p *PostgresImporter) Import(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	in, err := p.read(ctx, opts, result)
	if err != nil {
		return nil, err
	}
	countInstance(in, result)

	name := opts.Name
	if name == "" {
		name = "postgres import " + legacyDBName(opts.DSN)
	}
	if err := storeInstance(ctx, p.db, in, name, models.SourceImport, opts.ImportedBy, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgresImporter) read(ctx context.Context, opts Options, result *Result) (*instance.Instance, error) {
	src, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open legacy database: %w", err)
	}
	defer src.Close()

	in := &instance.Instance{DaysOff: make(map[string][]int)}

	if err := src.QueryRowContext(ctx,
		`SELECT horizon_days FROM roster_config LIMIT 1`).Scan(&in.Horizon); err != nil {
		return nil, fmt.Errorf("read horizon: %w", err)
	}

	forbidden, err := p.readSuccessions(ctx, src)
	if err != nil {
		return nil, err
	}

	rows, err := src.QueryContext(ctx,
		`SELECT code, length_minutes FROM shift_types ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("read shift types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sh instance.Shift
		if err := rows.Scan(&sh.ID, &sh.LengthMinutes); err != nil {
			return nil, fmt.Errorf("scan shift type: %w", err)
		}
		sh.ForbiddenFollowing = forbidden[sh.ID]
		in.Shifts = append(in.Shifts, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read shift types: %w", err)
	}

	limits, err := p.readShiftLimits(ctx, src)
	if err != nil {
		return nil, err
	}

	// position is the planner's tie-break order; it must survive the
	// import because the fill tries staff in exactly this order.
	staffRows, err := src.QueryContext(ctx, `
SELECT code, max_shifts, max_minutes, min_minutes,
       max_consecutive, min_consecutive, min_days_off, max_weekends
FROM staff
ORDER BY position, code`)
	if err != nil {
		return nil, fmt.Errorf("read staff: %w", err)
	}
	defer staffRows.Close()
	for staffRows.Next() {
		var (
			st          instance.Staff
			maxWeekends sql.NullInt64
		)
		if err := staffRows.Scan(&st.ID, &st.MaxShifts, &st.MaxTotalMinutes, &st.MinTotalMinutes,
			&st.MaxConsecutiveShifts, &st.MinConsecutiveShifts, &st.MinConsecutiveDaysOff, &maxWeekends); err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		st.MaxWeekends = -1
		if maxWeekends.Valid {
			st.MaxWeekends = int(maxWeekends.Int64)
		}
		st.ShiftLimits = limits[st.ID]
		in.Staff = append(in.Staff, st)
	}
	if err := staffRows.Err(); err != nil {
		return nil, fmt.Errorf("read staff: %w", err)
	}

	offRows, err := src.QueryContext(ctx,
		`SELECT staff_code, day_index FROM days_off ORDER BY staff_code, day_index`)
	if err != nil {
		return nil, fmt.Errorf("read days off: %w", err)
	}
	defer offRows.Close()
	for offRows.Next() {
		var (
			staffID string
			day     int
		)
		if err := offRows.Scan(&staffID, &day); err != nil {
			return nil, fmt.Errorf("scan day off: %w", err)
		}
		if in.StaffByID(staffID) == nil {
			result.skip("days_off_unknown_staff")
			continue
		}
		in.DaysOff[staffID] = append(in.DaysOff[staffID], day)
	}
	if err := offRows.Err(); err != nil {
		return nil, fmt.Errorf("read days off: %w", err)
	}

	if err := p.readRequests(ctx, src, in, result); err != nil {
		return nil, err
	}

	coverRows, err := src.QueryContext(ctx, `
SELECT day_index, shift_code, required, weight_under, weight_over
FROM cover_requirements
ORDER BY day_index, shift_code`)
	if err != nil {
		return nil, fmt.Errorf("read cover requirements: %w", err)
	}
	defer coverRows.Close()
	for coverRows.Next() {
		var c instance.CoverRequirement
		if err := coverRows.Scan(&c.Day, &c.ShiftID, &c.Required, &c.WeightUnder, &c.WeightOver); err != nil {
			return nil, fmt.Errorf("scan cover requirement: %w", err)
		}
		if in.ShiftByID(c.ShiftID) == nil {
			result.warn(fmt.Sprintf("cover row references unknown shift %q", c.ShiftID))
		}
		in.Cover = append(in.Cover, c)
	}
	if err := coverRows.Err(); err != nil {
		return nil, fmt.Errorf("read cover requirements: %w", err)
	}

	return in, nil
}

func (p *PostgresImporter) readSuccessions(ctx context.Context, src *sql.DB) (map[string][]string, error) {
	rows, err := src.QueryContext(ctx,
		`SELECT shift_code, forbidden_next FROM shift_successions ORDER BY shift_code, forbidden_next`)
	if err != nil {
		return nil, fmt.Errorf("read shift successions: %w", err)
	}
	defer rows.Close()

	forbidden := make(map[string][]string)
	for rows.Next() {
		var shiftID, next string
		if err := rows.Scan(&shiftID, &next); err != nil {
			return nil, fmt.Errorf("scan shift succession: %w", err)
		}
		forbidden[shiftID] = append(forbidden[shiftID], next)
	}
	return forbidden, rows.Err()
}

func (p *PostgresImporter) readShiftLimits(ctx context.Context, src *sql.DB) (map[string]map[string]int, error) {
	rows, err := src.QueryContext(ctx,
		`SELECT staff_code, shift_code, max_count FROM staff_shift_limits`)
	if err != nil {
		return nil, fmt.Errorf("read staff shift limits: %w", err)
	}
	defer rows.Close()

	limits := make(map[string]map[string]int)
	for rows.Next() {
		var (
			staffID, shiftID string
			max              int
		)
		if err := rows.Scan(&staffID, &shiftID, &max); err != nil {
			return nil, fmt.Errorf("scan staff shift limit: %w", err)
		}
		if limits[staffID] == nil {
			limits[staffID] = make(map[string]int)
		}
		limits[staffID][shiftID] = max
	}
	return limits, rows.Err()
}

func (p *PostgresImporter) readRequests(ctx context.Context, src *sql.DB, in *instance.Instance, result *Result) error {
	rows, err := src.QueryContext(ctx, `
SELECT staff_code, day_index, shift_code, weight, request_kind
FROM shift_requests
ORDER BY staff_code, day_index, shift_code`)
	if err != nil {
		return fmt.Errorf("read shift requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			req  instance.ShiftRequest
			kind string
		)
		if err := rows.Scan(&req.StaffID, &req.Day, &req.ShiftID, &req.Weight, &kind); err != nil {
			return fmt.Errorf("scan shift request: %w", err)
		}
		switch strings.ToLower(kind) {
		case "on":
			in.ShiftOnRequests = append(in.ShiftOnRequests, req)
		case "off":
			in.ShiftOffRequests = append(in.ShiftOffRequests, req)
		default:
			result.skip("request_unknown_kind")
		}
	}
	return rows.Err()
}

// legacyDBName pulls a readable database name out of a DSN for the
// default instance name.
func legacyDBName(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Path != "" {
		return strings.TrimPrefix(u.Path, "/")
	}
	// key=value form
	fields := strings.Fields(dsn)
	sort.Strings(fields)
	for _, f := range fields {
		if v, ok := strings.CutPrefix(f, "dbname="); ok {
			return v
		}
	}
	return "legacy"
}
