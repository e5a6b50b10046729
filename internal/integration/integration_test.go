package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"twitch-trivia-service/internal/app"
	"twitch-trivia-service/internal/domain"
	pgstore "twitch-trivia-service/internal/infra/postgres"
	pgmigrations "twitch-trivia-service/internal/infra/postgres/migrations"
	infraredis "twitch-trivia-service/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

type staticNames map[string]string

func (n staticNames) DisplayName(_ context.Context, key string) (string, error) {
	if name, ok := n[key]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no name for %s", key)
}

type staticViewers int

func (v staticViewers) ViewerCount() int { return int(v) }

type recordingGateway struct {
	mu     sync.Mutex
	events []string
}

func (g *recordingGateway) Broadcast(event string, _ any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, event)
}

func (g *recordingGateway) SendControl(string, any) {}

func (g *recordingGateway) count(event string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.events {
		if e == event {
			n++
		}
	}
	return n
}

func TestRoundPersistsEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := pgstore.NewStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	content := infraredis.NewContentCache(redisClient, store, 5*time.Minute)

	logger := zap.NewNop()
	resolver := app.NewResolver(store, staticNames{"U1": "Alice"}, logger)
	gw := &recordingGateway{}
	game := app.NewGame(store, content, resolver, gw, staticViewers(2), 2*time.Second, logger)

	if err := game.Activate(ctx, "quiz-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := game.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}

	game.SubmitAnswer(ctx, "U1", "q1", 1, 700)
	game.SubmitAnswer(ctx, "AGUEST", "q1", 0, 300)

	if err := game.CloseRound(ctx); err != nil {
		t.Fatalf("close round: %v", err)
	}
	if gw.count(domain.EventRoundEnd) != 1 {
		t.Fatalf("expected exactly one round-end, got %d", gw.count(domain.EventRoundEnd))
	}

	if exists, err := redisClient.Exists(ctx, "quiz:quiz-1:content").Result(); err != nil || exists != 1 {
		t.Fatalf("expected quiz content cached in redis, exists=%d err=%v", exists, err)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM responses`).Scan(&count); err != nil {
		t.Fatalf("count responses: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 persisted responses, got %d", count)
	}

	var points int
	var correct bool
	err = pool.QueryRow(ctx, `
		SELECT r.points, r.is_correct
		FROM responses r JOIN users u ON u.id = r.user_id
		WHERE u.external_key = 'U1'`).Scan(&points, &correct)
	if err != nil {
		t.Fatalf("load alice response: %v", err)
	}
	if points != 700 || !correct {
		t.Fatalf("expected +700 correct for Alice, got points=%d correct=%v", points, correct)
	}

	err = pool.QueryRow(ctx, `
		SELECT r.points, r.is_correct
		FROM responses r JOIN users u ON u.id = r.user_id
		WHERE u.external_key = 'AGUEST'`).Scan(&points, &correct)
	if err != nil {
		t.Fatalf("load guest response: %v", err)
	}
	if points != -300 || correct {
		t.Fatalf("expected -300 incorrect for guest, got points=%d correct=%v", points, correct)
	}

	// The guest shares their identity after the round: the persisted response
	// must move to the authenticated row and the anonymous row must go away.
	if err := game.MergeIdentity(ctx, "AGUEST", "U1"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	var aliceResponses int
	if err := pool.QueryRow(ctx, `
		SELECT count(*) FROM responses r JOIN users u ON u.id = r.user_id
		WHERE u.external_key = 'U1'`).Scan(&aliceResponses); err != nil {
		t.Fatalf("count alice responses: %v", err)
	}
	if aliceResponses != 2 {
		t.Fatalf("expected both responses relinked to Alice, got %d", aliceResponses)
	}
	var anonRows int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE external_key = 'AGUEST'`).Scan(&anonRows); err != nil {
		t.Fatalf("count anon users: %v", err)
	}
	if anonRows != 0 {
		t.Fatalf("expected anonymous user deleted after merge, got %d rows", anonRows)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "trivia", "POSTGRES_PASSWORD": "triviapass", "POSTGRES_DB": "triviadb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://trivia:triviapass@%s:%s/triviadb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO quizzes (id, name) VALUES ('quiz-1', 'Warm-up Trivia')`); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO questions (id, quiz_id, position, text, options, correct_option, time_limit_seconds)
		VALUES ('q1', 'quiz-1', 0, 'What is 2 + 2?', ARRAY['3','4','5','22'], 1, 30)`); err != nil {
		t.Fatalf("insert question: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
