// Package archive is the durable layer wrapped around the in-memory core:
// it observes the message store and the bot registry and persists what it
// sees to SQLite, and loads bot definitions back at startup. The
// orchestration core itself never touches the database.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"

	"github.com/ensemblechat/ensemble/internal/model"
	"github.com/ensemblechat/ensemble/migrations"
)

// NewDB opens the SQLite database at dbPath, applies embedded migrations,
// and returns the connection pool.
func NewDB(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite doesn't support concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := applyMigrations(db.DB); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("database connected and migrations applied", "path", dbPath)
	return db, nil
}

func applyMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	}
	return nil
}

type messageRow struct {
	ID          string         `db:"id"`
	Content     string         `db:"content"`
	Role        string         `db:"role"`
	Sender      string         `db:"sender"`
	SenderName  string         `db:"sender_name"`
	MessageType string         `db:"message_type"`
	Timestamp   time.Time      `db:"timestamp"`
	ToolResults sql.NullString `db:"tool_results"`
	Processing  sql.NullString `db:"processing"`
	CreatedAt   time.Time      `db:"created_at"`
}

type botRow struct {
	ID                       string    `db:"id"`
	Name                     string    `db:"name"`
	Description              string    `db:"description"`
	Model                    string    `db:"model"`
	Temperature              float32   `db:"temperature"`
	MaxTokens                int       `db:"max_tokens"`
	SystemPrompt             string    `db:"system_prompt"`
	PreProcessingPrompt      string    `db:"pre_processing_prompt"`
	PostProcessingPrompt     string    `db:"post_processing_prompt"`
	Enabled                  bool      `db:"enabled"`
	UseTools                 bool      `db:"use_tools"`
	EnableReprocessing       bool      `db:"enable_reprocessing"`
	ReprocessingCriteria     string    `db:"reprocessing_criteria"`
	ReprocessingInstructions string    `db:"reprocessing_instructions"`
	UpdatedAt                time.Time `db:"updated_at"`
}

// Archive persists messages and bot definitions.
type Archive struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates an archive over an open database.
func New(db *sqlx.DB, logger *slog.Logger) *Archive {
	return &Archive{
		db:     db,
		logger: logger.With("component", "archive"),
	}
}

// SaveMessage persists one finalized message. Tool results and processing
// metadata are stored as JSON columns.
func (a *Archive) SaveMessage(ctx context.Context, msg model.Message) error {
	row := messageRow{
		ID:          msg.ID,
		Content:     msg.Content,
		Role:        string(msg.Role),
		Sender:      msg.Sender,
		SenderName:  msg.SenderName,
		MessageType: string(msg.Type),
		Timestamp:   msg.Timestamp,
		CreatedAt:   time.Now().UTC(),
	}
	if len(msg.ToolResults) > 0 {
		data, err := json.Marshal(msg.ToolResults)
		if err != nil {
			return fmt.Errorf("failed to marshal tool results: %w", err)
		}
		row.ToolResults = sql.NullString{String: string(data), Valid: true}
	}
	if msg.Processing != nil {
		data, err := json.Marshal(msg.Processing)
		if err != nil {
			return fmt.Errorf("failed to marshal processing metadata: %w", err)
		}
		row.Processing = sql.NullString{String: string(data), Valid: true}
	}

	_, err := a.db.NamedExecContext(ctx, `
		INSERT INTO messages (id, content, role, sender, sender_name, message_type, timestamp, tool_results, processing, created_at)
		VALUES (:id, :content, :role, :sender, :sender_name, :message_type, :timestamp, :tool_results, :processing, :created_at)
		ON CONFLICT(id) DO NOTHING`, row)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// RecentMessages loads the most recent limit messages in insertion order.
func (a *Archive) RecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	var rows []messageRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT * FROM (
			SELECT * FROM messages ORDER BY timestamp DESC, created_at DESC LIMIT ?
		) ORDER BY timestamp ASC, created_at ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	out := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		msg := model.Message{
			ID:         row.ID,
			Content:    row.Content,
			Role:       model.Role(row.Role),
			Sender:     row.Sender,
			SenderName: row.SenderName,
			Type:       model.MessageType(row.MessageType),
			Timestamp:  row.Timestamp,
		}
		if row.ToolResults.Valid {
			if err := json.Unmarshal([]byte(row.ToolResults.String), &msg.ToolResults); err != nil {
				a.logger.WarnContext(ctx, "skipping malformed tool results", "message_id", row.ID, "error", err)
			}
		}
		if row.Processing.Valid {
			var meta model.ProcessingMetadata
			if err := json.Unmarshal([]byte(row.Processing.String), &meta); err != nil {
				a.logger.WarnContext(ctx, "skipping malformed processing metadata", "message_id", row.ID, "error", err)
			} else {
				msg.Processing = &meta
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// SaveBot upserts one bot definition.
func (a *Archive) SaveBot(ctx context.Context, bot model.Bot) error {
	row := botRow{
		ID:                       bot.ID,
		Name:                     bot.Name,
		Description:              bot.Description,
		Model:                    bot.Model,
		Temperature:              bot.Temperature,
		MaxTokens:                bot.MaxTokens,
		SystemPrompt:             bot.SystemPrompt,
		PreProcessingPrompt:      bot.PreProcessingPrompt,
		PostProcessingPrompt:     bot.PostProcessingPrompt,
		Enabled:                  bot.Enabled,
		UseTools:                 bot.UseTools,
		EnableReprocessing:       bot.EnableReprocessing,
		ReprocessingCriteria:     bot.ReprocessingCriteria,
		ReprocessingInstructions: bot.ReprocessingInstructions,
		UpdatedAt:                time.Now().UTC(),
	}

	_, err := a.db.NamedExecContext(ctx, `
		INSERT INTO bots (id, name, description, model, temperature, max_tokens, system_prompt,
			pre_processing_prompt, post_processing_prompt, enabled, use_tools, enable_reprocessing,
			reprocessing_criteria, reprocessing_instructions, updated_at)
		VALUES (:id, :name, :description, :model, :temperature, :max_tokens, :system_prompt,
			:pre_processing_prompt, :post_processing_prompt, :enabled, :use_tools, :enable_reprocessing,
			:reprocessing_criteria, :reprocessing_instructions, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			model = excluded.model,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			system_prompt = excluded.system_prompt,
			pre_processing_prompt = excluded.pre_processing_prompt,
			post_processing_prompt = excluded.post_processing_prompt,
			enabled = excluded.enabled,
			use_tools = excluded.use_tools,
			enable_reprocessing = excluded.enable_reprocessing,
			reprocessing_criteria = excluded.reprocessing_criteria,
			reprocessing_instructions = excluded.reprocessing_instructions,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("failed to save bot %q: %w", bot.ID, err)
	}
	return nil
}

// DeleteBot removes one bot definition.
func (a *Archive) DeleteBot(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete bot %q: %w", id, err)
	}
	return nil
}

// LoadBots returns every persisted bot definition.
func (a *Archive) LoadBots(ctx context.Context) ([]model.Bot, error) {
	var rows []botRow
	if err := a.db.SelectContext(ctx, &rows, `SELECT * FROM bots ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to load bots: %w", err)
	}

	bots := make([]model.Bot, 0, len(rows))
	for _, row := range rows {
		bots = append(bots, model.Bot{
			ID:                       row.ID,
			Name:                     row.Name,
			Description:              row.Description,
			Model:                    row.Model,
			Temperature:              row.Temperature,
			MaxTokens:                row.MaxTokens,
			SystemPrompt:             row.SystemPrompt,
			PreProcessingPrompt:      row.PreProcessingPrompt,
			PostProcessingPrompt:     row.PostProcessingPrompt,
			Enabled:                  row.Enabled,
			UseTools:                 row.UseTools,
			EnableReprocessing:       row.EnableReprocessing,
			ReprocessingCriteria:     row.ReprocessingCriteria,
			ReprocessingInstructions: row.ReprocessingInstructions,
		})
	}
	return bots, nil
}

// Maintenance performs periodic database upkeep.
func (a *Archive) Maintenance(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("ANALYZE failed: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}
	a.logger.InfoContext(ctx, "database maintenance completed")
	return nil
}
