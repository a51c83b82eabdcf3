package store

import (
	"context"
	"fmt"
	"time"

	db "github.com/madcadaver/dbot/internal/database/neo4j"
	"github.com/madcadaver/dbot/internal/models"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore is the GraphStore implementation backed by Neo4j. Messages hang
// off threads via PART_OF, users via SENT, tool invocations via PRODUCED and
// facts via DERIVED_FROM / ABOUT.
type Neo4jStore struct {
	client *db.Neo4jClient
}

// NewNeo4jStore creates a new Neo4jStore.
func NewNeo4jStore(client *db.Neo4jClient) *Neo4jStore {
	return &Neo4jStore{client: client}
}

// EnsureUser upserts a user node keyed by the platform user ID.
func (s *Neo4jStore) EnsureUser(ctx context.Context, user *models.User) error {
	query := `
	MERGE (u:User {user_id: $user_id})
	ON CREATE SET u.created_at = $now, u.other_names = []
	SET u.username = $username, u.last_seen_at = $now
	`
	params := map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
		"now":      time.Now().Unix(),
	}
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to ensure user in neo4j: %w", err)
	}
	return nil
}

// GetUser reads a user node. A missing user is not an error; nil is returned.
func (s *Neo4jStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	query := `
	MATCH (u:User {user_id: $user_id})
	RETURN u.user_id AS user_id, u.username AS username, u.alias AS alias,
	       u.other_names AS other_names, u.created_at AS created_at, u.last_seen_at AS last_seen_at
	`
	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"user_id": userID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records[0], nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user from neo4j: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	record := result.(*neo4j.Record)
	user := &models.User{UserID: userID}
	if v, ok := record.Get("username"); ok && v != nil {
		user.Username = v.(string)
	}
	if v, ok := record.Get("alias"); ok && v != nil {
		user.Alias = v.(string)
	}
	if v, ok := record.Get("other_names"); ok && v != nil {
		for _, name := range v.([]interface{}) {
			user.OtherNames = append(user.OtherNames, name.(string))
		}
	}
	if v, ok := record.Get("created_at"); ok && v != nil {
		user.CreatedAt = time.Unix(v.(int64), 0)
	}
	if v, ok := record.Get("last_seen_at"); ok && v != nil {
		user.LastSeenAt = time.Unix(v.(int64), 0)
	}
	return user, nil
}

// SetAlias stores the new preferred name and pushes the previous alias into
// other_names so old mentions can still be resolved.
func (s *Neo4jStore) SetAlias(ctx context.Context, userID, alias string) error {
	query := `
	MATCH (u:User {user_id: $user_id})
	SET u.other_names = CASE
		WHEN u.alias IS NOT NULL AND u.alias <> $alias AND NOT u.alias IN coalesce(u.other_names, [])
		THEN coalesce(u.other_names, []) + u.alias
		ELSE coalesce(u.other_names, [])
	END,
	u.alias = $alias
	`
	params := map[string]interface{}{
		"user_id": userID,
		"alias":   alias,
	}
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to set alias in neo4j: %w", err)
	}
	return nil
}

// EnsureThread upserts a thread node keyed by the thread ID.
func (s *Neo4jStore) EnsureThread(ctx context.Context, thread *models.Thread) error {
	query := `
	MERGE (t:Thread {thread_id: $thread_id})
	ON CREATE SET t.channel_id = $channel_id, t.is_dm = $is_dm, t.created_at = $now
	`
	params := map[string]interface{}{
		"thread_id":  thread.ThreadID,
		"channel_id": thread.ChannelID,
		"is_dm":      thread.IsDM,
		"now":        time.Now().Unix(),
	}
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to ensure thread in neo4j: %w", err)
	}
	return nil
}

// RecentMessages returns the newest messages of a thread in chronological
// order. The read goes newest-first for the LIMIT, then gets reversed.
func (s *Neo4jStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	query := `
	MATCH (m:Message {thread_id: $thread_id})
	RETURN m.message_id AS message_id, m.author_user_id AS author_user_id, m.role AS role,
	       m.content AS content, m.ordinal AS ordinal, m.token_count AS token_count, m.timestamp AS timestamp
	ORDER BY m.ordinal DESC
	LIMIT $limit
	`
	params := map[string]interface{}{
		"thread_id": threadID,
		"limit":     limit,
	}
	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages from neo4j: %w", err)
	}

	records := result.([]*neo4j.Record)
	messages := make([]*models.Message, 0, len(records))
	// Reverse into oldest-first order.
	for i := len(records) - 1; i >= 0; i-- {
		messages = append(messages, recordToMessage(records[i], threadID))
	}
	return messages, nil
}

func recordToMessage(record *neo4j.Record, threadID string) *models.Message {
	msg := &models.Message{ThreadID: threadID}
	if v, ok := record.Get("message_id"); ok && v != nil {
		msg.MessageID = v.(string)
	}
	if v, ok := record.Get("author_user_id"); ok && v != nil {
		msg.AuthorUserID = v.(string)
	}
	if v, ok := record.Get("role"); ok && v != nil {
		msg.Role = models.SpeakerRole(v.(string))
	}
	if v, ok := record.Get("content"); ok && v != nil {
		msg.Content = v.(string)
	}
	if v, ok := record.Get("ordinal"); ok && v != nil {
		msg.Ordinal = v.(int64)
	}
	if v, ok := record.Get("token_count"); ok && v != nil {
		msg.TokenCount = int(v.(int64))
	}
	if v, ok := record.Get("timestamp"); ok && v != nil {
		msg.Timestamp = time.Unix(v.(int64), 0)
	}
	return msg
}

// AppendTurn commits the whole turn in one write transaction. Ordinals are
// read and assigned inside the transaction, so with one writer per thread
// they are consecutive and gapless.
func (s *Neo4jStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		// Current high-water ordinal for the thread.
		res, err := tx.Run(ctx, `
			OPTIONAL MATCH (m:Message {thread_id: $thread_id})
			RETURN coalesce(max(m.ordinal), 0) AS max_ordinal
		`, map[string]interface{}{"thread_id": turn.ThreadID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		maxOrdinal, _ := record.Get("max_ordinal")
		ordinal := maxOrdinal.(int64)

		writeMessage := func(msg *models.Message) error {
			ordinal++
			msg.Ordinal = ordinal
			_, err := tx.Run(ctx, `
				MATCH (t:Thread {thread_id: $thread_id})
				CREATE (m:Message {
					message_id: $message_id, thread_id: $thread_id, author_user_id: $author_user_id,
					role: $role, content: $content, ordinal: $ordinal,
					token_count: $token_count, timestamp: $timestamp
				})
				CREATE (m)-[:PART_OF]->(t)
				WITH m
				OPTIONAL MATCH (u:User {user_id: $author_user_id})
				FOREACH (_ IN CASE WHEN u IS NULL THEN [] ELSE [1] END | CREATE (u)-[:SENT]->(m))
			`, map[string]interface{}{
				"thread_id":      turn.ThreadID,
				"message_id":     msg.MessageID,
				"author_user_id": msg.AuthorUserID,
				"role":           string(msg.Role),
				"content":        msg.Content,
				"ordinal":        ordinal,
				"token_count":    msg.TokenCount,
				"timestamp":      msg.Timestamp.Unix(),
			})
			return err
		}

		if turn.UserMessage != nil {
			if err := writeMessage(turn.UserMessage); err != nil {
				return nil, err
			}
		}
		if turn.Reply != nil {
			if err := writeMessage(turn.Reply); err != nil {
				return nil, err
			}
			for _, inv := range turn.Invocations {
				_, err := tx.Run(ctx, `
					MATCH (m:Message {message_id: $message_id})
					CREATE (i:ToolInvocation {
						invocation_id: $invocation_id, tool_name: $tool_name,
						args_json: $args_json, result: $result, success: $success, timestamp: $timestamp
					})
					CREATE (m)-[:PRODUCED]->(i)
				`, map[string]interface{}{
					"message_id":    turn.Reply.MessageID,
					"invocation_id": inv.InvocationID,
					"tool_name":     inv.ToolName,
					"args_json":     inv.ArgsJSON,
					"result":        inv.Result,
					"success":       inv.Success,
					"timestamp":     inv.Timestamp.Unix(),
				})
				if err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn to neo4j: %w", err)
	}
	return nil
}

// CreatePendingFact writes the graph half of a fact in pending state and
// links its provenance.
func (s *Neo4jStore) CreatePendingFact(ctx context.Context, fact *models.Fact) error {
	query := `
	CREATE (f:Fact {
		fact_id: $fact_id, content: $content, status: $status,
		subject_user_id: $subject_user_id, source: $source, created_at: $created_at
	})
	WITH f
	OPTIONAL MATCH (m:Message {message_id: $source_message_id})
	FOREACH (_ IN CASE WHEN m IS NULL THEN [] ELSE [1] END | CREATE (f)-[:DERIVED_FROM]->(m))
	WITH f
	OPTIONAL MATCH (u:User {user_id: $subject_user_id})
	FOREACH (_ IN CASE WHEN u IS NULL THEN [] ELSE [1] END | CREATE (f)-[:ABOUT]->(u))
	`
	params := map[string]interface{}{
		"fact_id":           fact.ID,
		"content":           fact.Content,
		"status":            string(models.FactPending),
		"subject_user_id":   fact.SubjectUserID,
		"source":            fact.Source,
		"source_message_id": fact.SourceMessageID,
		"created_at":        fact.CreatedAt.Unix(),
	}
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to create pending fact in neo4j: %w", err)
	}
	return nil
}

// MarkFactCommitted flips the fact's status once its embedding is durable.
func (s *Neo4jStore) MarkFactCommitted(ctx context.Context, factID string) error {
	query := `MATCH (f:Fact {fact_id: $fact_id}) SET f.status = $status`
	params := map[string]interface{}{
		"fact_id": factID,
		"status":  string(models.FactCommitted),
	}
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to mark fact committed in neo4j: %w", err)
	}
	return nil
}

// DeleteFact removes the graph half of a fact.
func (s *Neo4jStore) DeleteFact(ctx context.Context, factID string) error {
	query := `MATCH (f:Fact {fact_id: $fact_id}) DETACH DELETE f`
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, query, map[string]interface{}{"fact_id": factID})
	})
	if err != nil {
		return fmt.Errorf("failed to delete fact from neo4j: %w", err)
	}
	return nil
}

// UserFacts returns committed facts about a user, newest first.
func (s *Neo4jStore) UserFacts(ctx context.Context, userID string, limit int) ([]*models.Fact, error) {
	query := `
	MATCH (f:Fact {subject_user_id: $user_id, status: $status})
	RETURN f.fact_id AS fact_id, f.content AS content, f.source AS source, f.created_at AS created_at
	ORDER BY f.created_at DESC
	LIMIT $limit
	`
	params := map[string]interface{}{
		"user_id": userID,
		"status":  string(models.FactCommitted),
		"limit":   limit,
	}
	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user facts from neo4j: %w", err)
	}

	records := result.([]*neo4j.Record)
	facts := make([]*models.Fact, 0, len(records))
	for _, record := range records {
		fact := &models.Fact{SubjectUserID: userID, Status: models.FactCommitted}
		if v, ok := record.Get("fact_id"); ok && v != nil {
			fact.ID = v.(string)
		}
		if v, ok := record.Get("content"); ok && v != nil {
			fact.Content = v.(string)
		}
		if v, ok := record.Get("source"); ok && v != nil {
			fact.Source = v.(string)
		}
		if v, ok := record.Get("created_at"); ok && v != nil {
			fact.CreatedAt = time.Unix(v.(int64), 0)
		}
		facts = append(facts, fact)
	}
	return facts, nil
}
