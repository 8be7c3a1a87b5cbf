package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/geopins/internal/model"
)

// PostgresPinRepo はPostgreSQLを使用したピンリポジトリ。
// ミューテーションはそれぞれ1トランザクションで実行される。
type PostgresPinRepo struct {
	db *sql.DB
}

// NewPostgresPinRepo はPostgresPinRepoを生成する。
func NewPostgresPinRepo(db *sql.DB) *PostgresPinRepo {
	return &PostgresPinRepo{db: db}
}

const selectPinColumns = `
	SELECT p.id, p.title, p.content, p.image_url, p.latitude, p.longitude, p.author_id, p.created_at,
	       u.id, u.email, u.name, u.picture, u.created_at
	FROM pins p
	JOIN users u ON u.id = p.author_id`

// List は全ピンを作成日時の昇順で返す。
func (r *PostgresPinRepo) List(ctx context.Context) ([]model.Pin, error) {
	pins, err := queryPins(ctx, r.db, selectPinColumns+` ORDER BY p.created_at, p.id`)
	if err != nil {
		return nil, fmt.Errorf("ピン一覧の取得に失敗しました: %w", err)
	}
	return pins, nil
}

// FindByID は指定IDのピンを取得する。見つからない場合はnilを返す。
func (r *PostgresPinRepo) FindByID(ctx context.Context, id string) (*model.Pin, error) {
	pin, err := findPin(ctx, r.db, id, false)
	if err != nil {
		return nil, fmt.Errorf("ピンの取得に失敗しました: %w", err)
	}
	return pin, nil
}

// Create はピンを作成し、投稿者を展開したピンを返す。
func (r *PostgresPinRepo) Create(ctx context.Context, pin *model.Pin) (*model.Pin, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pins (id, title, content, image_url, latitude, longitude, author_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pin.ID, pin.Title, pin.Content, pin.ImageURL, pin.Latitude, pin.Longitude, pin.AuthorID, pin.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ピンの作成に失敗しました: %w", err)
	}

	created, err := findPin(ctx, tx, pin.ID, false)
	if err != nil {
		return nil, fmt.Errorf("作成したピンの再取得に失敗しました: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("created pin %s not found", pin.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

// Delete はピンを削除し、削除前のピンを返す。見つからない場合はnilを返す。
// コメントはCASCADE削除される。
func (r *PostgresPinRepo) Delete(ctx context.Context, id string) (*model.Pin, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pin, err := findPin(ctx, tx, id, true)
	if err != nil {
		return nil, fmt.Errorf("削除対象ピンの取得に失敗しました: %w", err)
	}
	if pin == nil {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pins WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("ピンの削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return pin, nil
}

// AddComment はピンにコメントを追記し、更新後のピンを返す。
// ピンが見つからない場合はnilを返す。
func (r *PostgresPinRepo) AddComment(ctx context.Context, pinID string, comment *model.Comment) (*model.Pin, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT true FROM pins WHERE id = $1 FOR UPDATE`, pinID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ピンのロックに失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO comments (id, pin_id, author_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, pinID, comment.AuthorID, comment.Text, comment.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("コメントの追加に失敗しました: %w", err)
	}

	pin, err := findPin(ctx, tx, pinID, false)
	if err != nil {
		return nil, fmt.Errorf("更新後ピンの取得に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return pin, nil
}

func findPin(ctx context.Context, q queryer, id string, forUpdate bool) (*model.Pin, error) {
	query := selectPinColumns + ` WHERE p.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF p`
	}
	pins, err := queryPins(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(pins) == 0 {
		return nil, nil
	}
	return &pins[0], nil
}

// queryPins はピン行を読み込み、該当ピンのコメントを投稿順で付与する。
func queryPins(ctx context.Context, q queryer, query string, args ...any) ([]model.Pin, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pins := []model.Pin{}
	index := make(map[string]int)
	for rows.Next() {
		var p model.Pin
		author := &model.User{}
		if err := rows.Scan(
			&p.ID, &p.Title, &p.Content, &p.ImageURL, &p.Latitude, &p.Longitude, &p.AuthorID, &p.CreatedAt,
			&author.ID, &author.Email, &author.Name, &author.Picture, &author.CreatedAt,
		); err != nil {
			return nil, err
		}
		p.Author = author
		p.Comments = []model.Comment{}
		index[p.ID] = len(pins)
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pins) == 0 {
		return pins, nil
	}

	ids := make([]string, len(pins))
	for i, p := range pins {
		ids[i] = p.ID
	}

	crows, err := q.QueryContext(ctx,
		`SELECT c.id, c.pin_id, c.author_id, c.text, c.created_at,
		        u.id, u.email, u.name, u.picture, u.created_at
		 FROM comments c
		 JOIN users u ON u.id = c.author_id
		 WHERE c.pin_id = ANY($1)
		 ORDER BY c.pin_id, c.seq`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	defer crows.Close()

	for crows.Next() {
		var c model.Comment
		var pinID string
		author := &model.User{}
		if err := crows.Scan(
			&c.ID, &pinID, &c.AuthorID, &c.Text, &c.CreatedAt,
			&author.ID, &author.Email, &author.Name, &author.Picture, &author.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.Author = author
		if i, ok := index[pinID]; ok {
			pins[i].Comments = append(pins[i].Comments, c)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	return pins, nil
}

// compile-time interface check
var _ PinRepository = (*PostgresPinRepo)(nil)
