package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jasoncavinder/helm/internal/models"
)

// taskHistoryLimit bounds how many terminal tasks are retained; the oldest
// are pruned as new tasks arrive.
const taskHistoryLimit = 1000

type taskRow struct {
	ID         uint64     `db:"id"`
	ManagerID  string     `db:"manager_id"`
	TaskType   string     `db:"task_type"`
	Status     string     `db:"status"`
	LabelKey   string     `db:"label_key"`
	LabelArgs  string     `db:"label_args"`
	CreatedAt  time.Time  `db:"created_at"`
	TerminalAt *time.Time `db:"terminal_at"`
	ErrorKind  *string    `db:"error_kind"`
}

func (r taskRow) toModel() models.TaskRecord {
	// A corrupt label_args blob degrades to an empty map rather than
	// failing the whole listing.
	args := map[string]string{}
	_ = json.Unmarshal([]byte(r.LabelArgs), &args)
	var kind *models.ErrorKind
	if r.ErrorKind != nil {
		k := models.ErrorKind(*r.ErrorKind)
		kind = &k
	}
	return models.TaskRecord{
		ID:         r.ID,
		ManagerID:  r.ManagerID,
		TaskType:   models.TaskType(r.TaskType),
		Status:     models.TaskStatus(r.Status),
		LabelKey:   r.LabelKey,
		LabelArgs:  args,
		CreatedAt:  r.CreatedAt,
		TerminalAt: r.TerminalAt,
		ErrorKind:  kind,
	}
}

// CreateTask inserts a new Queued task and fills in its assigned id.
func (s *Store) CreateTask(ctx context.Context, t *models.TaskRecord) error {
	args, err := json.Marshal(t.LabelArgs)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (manager_id, task_type, status, label_key, label_args, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ManagerID, string(t.TaskType), string(t.Status), t.LabelKey, string(args), now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.CreatedAt = now
	s.pruneTasks(ctx)
	return nil
}

// ReconcileInterruptedTasks marks every task a previous process left in a
// non-terminal state — a crash mid-run, or a terminal transition whose
// write never landed — as Failed. Called once at startup, before the
// coordinator accepts any work, so no observer ever reads a Running task
// that no live goroutine owns.
func (s *Store) ReconcileInterruptedTasks(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_kind = ?, terminal_at = ?
		WHERE status IN (?, ?)
	`, string(models.StatusFailed), string(models.ErrInternal), time.Now().UTC(),
		string(models.StatusQueued), string(models.StatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// pruneTasks drops the oldest terminal tasks past the retention limit.
// Best-effort: a prune failure never fails the insert that triggered it.
func (s *Store) pruneTasks(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED')
		  AND id NOT IN (SELECT id FROM tasks ORDER BY id DESC LIMIT ?)
	`, taskHistoryLimit)
}

// UpdateTaskStatus records a transition. Callers validate the transition
// against models.CanTransition before calling this.
func (s *Store) UpdateTaskStatus(ctx context.Context, id uint64, status models.TaskStatus, errKind *models.ErrorKind) error {
	var kind *string
	if errKind != nil {
		k := string(*errKind)
		kind = &k
	}
	if models.IsTerminal(status) {
		_, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, error_kind = ?, terminal_at = ? WHERE id = ?`,
			string(status), kind, time.Now().UTC(), id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, error_kind = ? WHERE id = ?`, string(status), kind, id)
	return err
}

func (s *Store) GetTask(ctx context.Context, id uint64) (models.TaskRecord, bool, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return models.TaskRecord{}, false, nil
		}
		return models.TaskRecord{}, false, err
	}
	return row.toModel(), true, nil
}

// ListTasks filters by manager (optional) and status (optional), newest first.
func (s *Store) ListTasks(ctx context.Context, managerID string, status *models.TaskStatus, limit int) ([]models.TaskRecord, error) {
	query := `SELECT * FROM tasks WHERE 1=1`
	var args []interface{}
	if managerID != "" {
		query += ` AND manager_id = ?`
		args = append(args, managerID)
	}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]models.TaskRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) SaveTaskOutput(ctx context.Context, o models.TaskOutput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_output (task_id, stdout, stderr, exit_code)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET stdout = excluded.stdout, stderr = excluded.stderr, exit_code = excluded.exit_code
	`, o.TaskID, o.Stdout, o.Stderr, o.ExitCode)
	return err
}

type taskOutputRow struct {
	TaskID   uint64 `db:"task_id"`
	Stdout   []byte `db:"stdout"`
	Stderr   []byte `db:"stderr"`
	ExitCode int    `db:"exit_code"`
}

func (s *Store) GetTaskOutput(ctx context.Context, taskID uint64) (models.TaskOutput, bool, error) {
	var row taskOutputRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM task_output WHERE task_id = ?`, taskID)
	if err != nil {
		if isNoRows(err) {
			return models.TaskOutput{}, false, nil
		}
		return models.TaskOutput{}, false, err
	}
	return models.TaskOutput{TaskID: row.TaskID, Stdout: row.Stdout, Stderr: row.Stderr, ExitCode: row.ExitCode}, true, nil
}

func (s *Store) AppendTaskLog(ctx context.Context, l models.LogRecord) error {
	ts := l.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, timestamp, level, message)
		VALUES (?, ?, ?, ?)
	`, l.TaskID, ts, l.Level, l.Message)
	return err
}

type logRow struct {
	TaskID    uint64    `db:"task_id"`
	Timestamp time.Time `db:"timestamp"`
	Level     string    `db:"level"`
	Message   string    `db:"message"`
}

func (s *Store) ListTaskLogs(ctx context.Context, taskID uint64) ([]models.LogRecord, error) {
	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT task_id, timestamp, level, message FROM task_logs WHERE task_id = ? ORDER BY id ASC`, taskID); err != nil {
		return nil, err
	}
	out := make([]models.LogRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.LogRecord{TaskID: r.TaskID, Timestamp: r.Timestamp, Level: r.Level, Message: r.Message})
	}
	return out, nil
}
