package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stagegate/internal/domain"
)

const documentColumns = `id,document_type,COALESCE(project,''),generating_actor,COALESCE(department,''),status,created_at,follow_up_triggered,actor_acknowledged,follow_up_json`

func scanDocument(row rowScanner) (domain.Document, error) {
	var d domain.Document
	var followUp sql.NullString
	var triggered, acked int
	if err := row.Scan(&d.ID, &d.DocumentType, &d.Project, &d.GeneratingActor, &d.Department, &d.Status, &d.CreatedAt, &triggered, &acked, &followUp); err != nil {
		return d, err
	}
	d.FollowUpTriggered = triggered == 1
	d.ActorAcknowledged = acked == 1
	if followUp.Valid && followUp.String != "" {
		var f domain.FollowUp
		if err := json.Unmarshal([]byte(followUp.String), &f); err != nil {
			return d, fmt.Errorf("decode document %s follow-up: %w", d.ID, err)
		}
		d.FollowUp = &f
	}
	return d, nil
}

// InsertDocument stores doc as the newest entry and deletes rows beyond
// capacity in the same transaction.
func (r Repo) InsertDocument(ctx context.Context, doc domain.Document, capacity int) ([]string, error) {
	followUp, err := marshalFollowUp(doc.FollowUp)
	if err != nil {
		return nil, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents(id,seq,document_type,project,generating_actor,department,status,created_at,follow_up_triggered,actor_acknowledged,follow_up_json)
VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM documents),?,?,?,?,?,?,?,?,?)`,
		doc.ID, doc.DocumentType, nullable(doc.Project), doc.GeneratingActor, nullable(doc.Department), string(doc.Status), doc.CreatedAt,
		boolToInt(doc.FollowUpTriggered), boolToInt(doc.ActorAcknowledged), followUp); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	var evicted []string
	if capacity > 0 {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM documents ORDER BY seq DESC LIMIT -1 OFFSET ?`, capacity)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			evicted = append(evicted, id)
		}
		rows.Close()
		for _, id := range evicted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id); err != nil {
				return nil, fmt.Errorf("evict document %s: %w", id, err)
			}
		}
	}
	return evicted, tx.Commit()
}

func (r Repo) UpdateDocument(ctx context.Context, doc domain.Document) error {
	followUp, err := marshalFollowUp(doc.FollowUp)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE documents SET status=?, follow_up_triggered=?, actor_acknowledged=?, follow_up_json=? WHERE id=?`,
		string(doc.Status), boolToInt(doc.FollowUpTriggered), boolToInt(doc.ActorAcknowledged), followUp, doc.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return domain.NotFound("document", doc.ID)
	}
	return nil
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	d, err := scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, domain.NotFound("document", id)
	}
	return d, err
}

func (r Repo) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func marshalFollowUp(f *domain.FollowUp) (any, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal follow-up: %w", err)
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
