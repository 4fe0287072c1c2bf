/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/models"
)

// SQLiteImporter reads the database file of the old desktop planner. The
// desktop app kept everything in one file: a settings key/value table plus
// employees, shift kinds, absences, requests and demand rows.
type SQLiteImporter struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSQLiteImporter creates the importer writing into db.
func NewSQLiteImporter(db *gorm.DB, logger zerolog.Logger) *SQLiteImporter {
	return &SQLiteImporter{
		db:     db,
		logger: logger.With().Str("component", "sqlite_importer").Logger(),
	}
}

// requiredTables are the desktop planner tables an import needs.
var requiredTables = []string{"settings", "shift_kinds", "employees", "demand"}

// Validate checks the file exists and carries the desktop planner schema.
func (s *SQLiteImporter) Validate(ctx context.Context, opts Options) error {
	if opts.FilePath == "" {
		return fmt.Errorf("sqlite importer requires a file path")
	}
	if _, err := os.Stat(opts.FilePath); err != nil {
		return fmt.Errorf("stat planner file: %w", err)
	}

	src, err := s.open(opts.FilePath)
	if err != nil {
		return err
	}
	defer src.Close()

	for _, table := range requiredTables {
		var name string
		err := src.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("not a planner file: missing table %q", table)
		}
		if err != nil {
			return fmt.Errorf("inspect planner file: %w", err)
		}
	}
	return nil
}

// Analyze reads the file and reports counts without writing.
func (s *SQLiteImporter) Analyze(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	in, err := s.read(ctx, opts, result)
	if err != nil {
		return nil, err
	}
	countInstance(in, result)
	return result, nil
}

// Import reads the file and stores the synthesized instance.
func (s *SQLiteImporter) Import(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	in, err := s.read(ctx, opts, result)
	if err != nil {
		return nil, err
	}
	countInstance(in, result)

	name := opts.Name
	if name == "" {
		base := filepath.Base(opts.FilePath)
		name = "planner import " + strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := storeInstance(ctx, s.db, in, name, models.SourceImport, opts.ImportedBy, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteImporter) open(path string) (*sql.DB, error) {
	// mode=ro: the planner file is someone's data; never touch it.
	src, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open planner file: %w", err)
	}
	return src, nil
}

func (s *SQLiteImporter) read(ctx context.Context, opts Options, result *Result) (*instance.Instance, error) {
	src, err := s.open(opts.FilePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	in := &instance.Instance{DaysOff: make(map[string][]int)}

	var horizonRaw string
	if err := src.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'horizon_days'`).Scan(&horizonRaw); err != nil {
		return nil, fmt.Errorf("read horizon setting: %w", err)
	}
	horizon, err := strconv.Atoi(strings.TrimSpace(horizonRaw))
	if err != nil {
		return nil, fmt.Errorf("horizon setting %q is not a number", horizonRaw)
	}
	in.Horizon = horizon

	// cannot_follow is a pipe-joined list in the desktop schema, same
	// separator the instance text format uses.
	shiftRows, err := src.QueryContext(ctx,
		`SELECT name, minutes, COALESCE(cannot_follow, '') FROM shift_kinds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("read shift kinds: %w", err)
	}
	defer shiftRows.Close()
	for shiftRows.Next() {
		var (
			sh           instance.Shift
			cannotFollow string
		)
		if err := shiftRows.Scan(&sh.ID, &sh.LengthMinutes, &cannotFollow); err != nil {
			return nil, fmt.Errorf("scan shift kind: %w", err)
		}
		if cannotFollow != "" {
			sh.ForbiddenFollowing = strings.Split(cannotFollow, "|")
		}
		in.Shifts = append(in.Shifts, sh)
	}
	if err := shiftRows.Err(); err != nil {
		return nil, fmt.Errorf("read shift kinds: %w", err)
	}

	limits, err := s.readLimits(ctx, src)
	if err != nil {
		return nil, err
	}

	empRows, err := src.QueryContext(ctx, `
SELECT name, max_shifts, max_minutes, min_minutes,
       max_consecutive, min_consecutive, min_rest_days, max_weekends
FROM employees
ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("read employees: %w", err)
	}
	defer empRows.Close()
	for empRows.Next() {
		var (
			st          instance.Staff
			maxWeekends sql.NullInt64
		)
		if err := empRows.Scan(&st.ID, &st.MaxShifts, &st.MaxTotalMinutes, &st.MinTotalMinutes,
			&st.MaxConsecutiveShifts, &st.MinConsecutiveShifts, &st.MinConsecutiveDaysOff, &maxWeekends); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		st.MaxWeekends = -1
		if maxWeekends.Valid {
			st.MaxWeekends = int(maxWeekends.Int64)
		}
		st.ShiftLimits = limits[st.ID]
		in.Staff = append(in.Staff, st)
	}
	if err := empRows.Err(); err != nil {
		return nil, fmt.Errorf("read employees: %w", err)
	}

	absRows, err := src.QueryContext(ctx,
		`SELECT employee, day FROM absences ORDER BY employee, day`)
	if err != nil {
		return nil, fmt.Errorf("read absences: %w", err)
	}
	defer absRows.Close()
	for absRows.Next() {
		var (
			staffID string
			day     int
		)
		if err := absRows.Scan(&staffID, &day); err != nil {
			return nil, fmt.Errorf("scan absence: %w", err)
		}
		if in.StaffByID(staffID) == nil {
			result.skip("absence_unknown_employee")
			continue
		}
		in.DaysOff[staffID] = append(in.DaysOff[staffID], day)
	}
	if err := absRows.Err(); err != nil {
		return nil, fmt.Errorf("read absences: %w", err)
	}

	reqRows, err := src.QueryContext(ctx,
		`SELECT employee, day, shift, weight, kind FROM requests ORDER BY employee, day, shift`)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	defer reqRows.Close()
	for reqRows.Next() {
		var (
			req  instance.ShiftRequest
			kind string
		)
		if err := reqRows.Scan(&req.StaffID, &req.Day, &req.ShiftID, &req.Weight, &kind); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
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
	if err := reqRows.Err(); err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	demandRows, err := src.QueryContext(ctx, `
SELECT day, shift, staff_needed, weight_under, weight_over
FROM demand
ORDER BY day, shift`)
	if err != nil {
		return nil, fmt.Errorf("read demand: %w", err)
	}
	defer demandRows.Close()
	for demandRows.Next() {
		var c instance.CoverRequirement
		if err := demandRows.Scan(&c.Day, &c.ShiftID, &c.Required, &c.WeightUnder, &c.WeightOver); err != nil {
			return nil, fmt.Errorf("scan demand: %w", err)
		}
		if in.ShiftByID(c.ShiftID) == nil {
			result.warn(fmt.Sprintf("demand row references unknown shift %q", c.ShiftID))
		}
		in.Cover = append(in.Cover, c)
	}
	if err := demandRows.Err(); err != nil {
		return nil, fmt.Errorf("read demand: %w", err)
	}

	return in, nil
}

func (s *SQLiteImporter) readLimits(ctx context.Context, src *sql.DB) (map[string]map[string]int, error) {
	// employee_limits is optional; older planner files do not have it.
	var name string
	err := src.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'employee_limits'`).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inspect planner file: %w", err)
	}

	rows, err := src.QueryContext(ctx,
		`SELECT employee, shift, max_count FROM employee_limits`)
	if err != nil {
		return nil, fmt.Errorf("read employee limits: %w", err)
	}
	defer rows.Close()

	limits := make(map[string]map[string]int)
	for rows.Next() {
		var (
			staffID, shiftID string
			max              int
		)
		if err := rows.Scan(&staffID, &shiftID, &max); err != nil {
			return nil, fmt.Errorf("scan employee limit: %w", err)
		}
		if limits[staffID] == nil {
			limits[staffID] = make(map[string]int)
		}
		limits[staffID][shiftID] = max
	}
	return limits, rows.Err()
}
