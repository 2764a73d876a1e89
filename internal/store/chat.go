package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
)

// CreateChat inserts the chat if missing and returns it.
func (db *DB) CreateChat(id int64) (*chat.Chat, error) {
	if _, err := db.Exec(`INSERT INTO chats (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return db.ChatWithID(id)
}

// ChatWithID returns the chat with its assigned agents, or nil.
func (db *DB) ChatWithID(id int64) (*chat.Chat, error) {
	var chatID int64
	err := db.QueryRow(`SELECT id FROM chats WHERE id = ?`, id).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT a.id, a.name, a.title, a.avatar_url, a.state
		FROM chat_agents ca
		JOIN agents a ON a.id = ca.agent_id
		WHERE ca.chat_id = ?
		ORDER BY a.id`, id)
	if err != nil {
		return nil, err
	}
	agents, err := scanAgents(rows)
	if err != nil {
		return nil, err
	}
	return &chat.Chat{ID: chatID, Agents: agents}, nil
}

// StoreChatAgents records agent assignment for the chat. With exclusive
// the stored set is replaced, otherwise agentIDs are added to it.
func (db *DB) StoreChatAgents(chatID int64, agentIDs []int64, exclusive bool) (*chat.Chat, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO chats (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		chatID, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if exclusive {
		if _, err := tx.Exec(`DELETE FROM chat_agents WHERE chat_id = ?`, chatID); err != nil {
			return nil, fmt.Errorf("clear chat agents: %w", err)
		}
	}
	for _, id := range agentIDs {
		if _, err := tx.Exec(`INSERT INTO agents (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id); err != nil {
			return nil, fmt.Errorf("insert agent %d: %w", id, err)
		}
		if _, err := tx.Exec(`INSERT INTO chat_agents (chat_id, agent_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			chatID, id); err != nil {
			return nil, fmt.Errorf("insert chat agent %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return db.ChatWithID(chatID)
}

func scanAgents(rows *sql.Rows) ([]chat.Agent, error) {
	defer func() { _ = rows.Close() }()

	var agents []chat.Agent
	for rows.Next() {
		var (
			a     chat.Agent
			state string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Title, &a.AvatarURL, &state); err != nil {
			return nil, err
		}
		a.State = chat.AgentState(state)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpsertAgent inserts or updates an agent.
func (db *DB) UpsertAgent(a chat.Agent) (*chat.Agent, error) {
	if a.State == "" {
		a.State = chat.AgentOffline
	}
	_, err := db.Exec(`
		INSERT INTO agents (id, name, title, avatar_url, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE agents.name END,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE agents.title END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE agents.avatar_url END,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		a.ID, a.Name, a.Title, a.AvatarURL, a.State, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}
	return db.Agent(a.ID)
}

// Agent returns a single agent, or nil.
func (db *DB) Agent(id int64) (*chat.Agent, error) {
	var (
		a     chat.Agent
		state string
	)
	err := db.QueryRow(`SELECT id, name, title, avatar_url, state FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Title, &a.AvatarURL, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.State = chat.AgentState(state)
	return &a, nil
}

// MakeAllAgentsOffline resets every agent's presence.
func (db *DB) MakeAllAgentsOffline() (int64, error) {
	res, err := db.Exec(`UPDATE agents SET state = ?, updated_at = ? WHERE state != ?`,
		chat.AgentOffline, time.Now().UnixMilli(), chat.AgentOffline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
