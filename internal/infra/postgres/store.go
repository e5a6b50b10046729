package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"twitch-trivia-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store implements app.GameStore and quiz content loading on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// QuizContent loads a quiz and its questions in position order.
func (s *Store) QuizContent(ctx context.Context, quizID string) (domain.QuizContent, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM quizzes WHERE id=$1`, quizID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizContent{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuizContent{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, text, options, correct_option, time_limit_seconds
		FROM questions
		WHERE quiz_id=$1
		ORDER BY position`, quizID)
	if err != nil {
		return domain.QuizContent{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	quiz := domain.QuizContent{ID: quizID, Name: name}
	for rows.Next() {
		var (
			q            domain.Question
			options      []string
			limitSeconds int
		)
		if err := rows.Scan(&q.ID, &q.Text, &options, &q.Correct, &limitSeconds); err != nil {
			return domain.QuizContent{}, fmt.Errorf("scan question: %w", err)
		}
		for i := 0; i < domain.OptionCount && i < len(options); i++ {
			q.Options[i] = options[i]
		}
		q.TimeLimit = time.Duration(limitSeconds) * time.Second
		quiz.Questions = append(quiz.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.QuizContent{}, fmt.Errorf("read questions: %w", err)
	}
	return quiz, nil
}

func (s *Store) CreateInstance(ctx context.Context, quizID string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_instances (id, quiz_id, started_at) VALUES ($1, $2, now())`, id, quizID)
	if err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	return id, nil
}

func (s *Store) FinishInstance(ctx context.Context, instanceID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE quiz_instances SET ended_at=now() WHERE id=$1 AND ended_at IS NULL`, instanceID)
	if err != nil {
		return fmt.Errorf("finish instance: %w", err)
	}
	return nil
}

func (s *Store) FindOrCreateUser(ctx context.Context, externalKey, displayName string, anonymous bool) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, external_key, display_name, is_anonymous)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_key) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, external_key, display_name, is_anonymous`,
		uuid.NewString(), externalKey, displayName, anonymous).
		Scan(&user.ID, &user.ExternalKey, &user.DisplayName, &user.Anonymous)
	if err != nil {
		return domain.User{}, fmt.Errorf("find or create user: %w", err)
	}
	return user, nil
}

// SaveResponses writes the whole batch in one transaction; any failure rolls
// back every row.
func (s *Store) SaveResponses(ctx context.Context, responses []domain.Response) error {
	if len(responses) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin responses tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range responses {
		_, err := tx.Exec(ctx, `
			INSERT INTO responses
				(instance_id, quiz_id, question_id, user_id, selected_option, response_margin_ms, points, is_correct)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.InstanceID, r.QuizID, r.QuestionID, r.UserID, r.Option, r.MarginMs, r.Points, r.Correct)
		if err != nil {
			return fmt.Errorf("insert response: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit responses: %w", err)
	}
	return nil
}

// MergeUsers relinks every response of fromUserID to toUserID and deletes
// the anonymous user row, atomically.
func (s *Store) MergeUsers(ctx context.Context, fromUserID, toUserID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE responses SET user_id=$2 WHERE user_id=$1`, fromUserID, toUserID); err != nil {
		return fmt.Errorf("relink responses: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id=$1`, fromUserID); err != nil {
		return fmt.Errorf("delete merged user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}
