package store

import (
	"database/sql"
	"fmt"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

const agentColumns = "id, task_id, agent_type, slot, pid, worktree, started_at"

// RegisterAgent records a running agent for a task, allocating the lowest
// free slot. Re-registering for a task that already has an active agent
// updates the existing row and keeps its slot. Fails with SlotsExhausted
// when all slots are taken.
func (s *Store) RegisterAgent(taskID string, agentType models.AgentType, pid int, worktree string) (*models.ActiveAgent, error) {
	if taskID == "" {
		return nil, errs.New(errs.KindInvalidArgument, "task id is required")
	}
	if !agentType.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, "invalid agent type %q", agentType)
	}

	var agent *models.ActiveAgent
	err := s.transaction(func(tx *sql.Tx) error {
		existing, err := scanAgentRow(tx.QueryRow(
			"SELECT "+agentColumns+" FROM active_agents WHERE task_id = ?", taskID))
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if existing != nil {
			existing.AgentType = agentType
			existing.PID = pid
			existing.Worktree = worktree
			_, err := tx.Exec(
				"UPDATE active_agents SET agent_type = ?, pid = ?, worktree = ? WHERE task_id = ?",
				string(agentType), nullableInt(pid), nullable(worktree), taskID,
			)
			if err != nil {
				return fmt.Errorf("update agent registration: %w", err)
			}
			agent = existing
			return nil
		}

		taken := make(map[int]bool, models.MaxAgentSlots)
		rows, err := tx.Query("SELECT slot FROM active_agents")
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}
		for rows.Next() {
			var slot int
			if err := rows.Scan(&slot); err != nil {
				rows.Close()
				return err
			}
			taken[slot] = true
		}
		rows.Close()

		slot := 0
		for i := 1; i <= models.MaxAgentSlots; i++ {
			if !taken[i] {
				slot = i
				break
			}
		}
		if slot == 0 {
			return errs.New(errs.KindSlotsExhausted,
				"all %d agent slots are in use", models.MaxAgentSlots)
		}

		agent = &models.ActiveAgent{
			ID:        uuid.New().String(),
			TaskID:    taskID,
			AgentType: agentType,
			Slot:      slot,
			PID:       pid,
			Worktree:  worktree,
			StartedAt: time.Now(),
		}
		_, err = tx.Exec(`
			INSERT INTO active_agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			agent.ID, agent.TaskID, string(agent.AgentType), agent.Slot,
			nullableInt(agent.PID), nullable(agent.Worktree),
			formatTime(agent.StartedAt),
		)
		if err != nil {
			return fmt.Errorf("register agent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// DeregisterAgentByTask removes the active agent for a task. Returns
// false if none was registered.
func (s *Store) DeregisterAgentByTask(taskID string) (bool, error) {
	return s.deregisterAgent("task_id = ?", taskID)
}

// DeregisterAgentBySlot removes the active agent in the given slot.
func (s *Store) DeregisterAgentBySlot(slot int) (bool, error) {
	return s.deregisterAgent("slot = ?", slot)
}

func (s *Store) deregisterAgent(where string, arg any) (bool, error) {
	var removed bool
	err := s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM active_agents WHERE "+where, arg)
		if err != nil {
			return fmt.Errorf("deregister agent: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

// ListActiveAgents returns all registered agents ordered by slot.
func (s *Store) ListActiveAgents() ([]*models.ActiveAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query("SELECT " + agentColumns + " FROM active_agents ORDER BY slot ASC")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.ActiveAgent
	for rows.Next() {
		agent, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CleanupStaleAgents removes registrations whose recorded process no
// longer exists. Rows without a PID are never cleaned. Returns the ids of
// the tasks whose registrations were removed.
func (s *Store) CleanupStaleAgents() ([]string, error) {
	agents, err := s.ListActiveAgents()
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, a := range agents {
		if a.PID == 0 {
			continue
		}
		if !processAlive(a.PID) {
			if _, err := s.DeregisterAgentByTask(a.TaskID); err != nil {
				return stale, err
			}
			stale = append(stale, a.TaskID)
		}
	}
	return stale, nil
}

// processAlive probes a pid with signal zero. EPERM means the process
// exists but belongs to another user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

func scanAgentRow(row rowScanner) (*models.ActiveAgent, error) {
	var (
		agent     models.ActiveAgent
		agentType string
		pid       sql.NullInt64
		worktree  sql.NullString
		startedAt string
	)
	if err := row.Scan(&agent.ID, &agent.TaskID, &agentType, &agent.Slot,
		&pid, &worktree, &startedAt); err != nil {
		return nil, err
	}
	agent.AgentType = models.AgentType(agentType)
	agent.PID = int(pid.Int64)
	agent.Worktree = worktree.String
	var err error
	if agent.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "agent %s started_at", agent.ID)
	}
	return &agent, nil
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
