package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/a-h/slackrag/vectorstore"
	"github.com/rqlite/gorqlite"
)

func New(conn *gorqlite.Connection) *Queries {
	return &Queries{
		conn: conn,
	}
}

// Queries stores records in rqlite, using a sqlite-vec virtual table for the embeddings.
type Queries struct {
	conn *gorqlite.Connection
}

var _ vectorstore.Backend = (*Queries)(nil)

// Append inserts each record and its embedding. Existing records are never updated.
func (q *Queries) Append(ctx context.Context, partition string, records []vectorstore.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	statements := make([]gorqlite.ParameterizedStatement, 0, len(records)*2)
	for _, r := range records {
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("db: failed to marshal metadata: %w", err)
		}
		embeddingJSON, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("db: failed to marshal embedding: %w", err)
		}
		statements = append(statements,
			gorqlite.ParameterizedStatement{
				Query:     `insert into record (partition, text, metadata, created_at) values (?, ?, ?, ?)`,
				Arguments: []any{partition, r.Text, string(metadataJSON), r.CreatedAt},
			},
			// The vector row shares the rowid of the record inserted immediately before it.
			gorqlite.ParameterizedStatement{
				Query:     `insert into record_vec (record_id, partition, embedding) values (last_insert_rowid(), ?, ?)`,
				Arguments: []any{partition, string(embeddingJSON)},
			},
		)
	}
	if _, err = q.conn.WriteParameterizedContext(ctx, statements); err != nil {
		return fmt.Errorf("db: append failed: %w", err)
	}
	return nil
}

// Nearest returns up to limit records from the partition, closest first.
func (q *Queries) Nearest(ctx context.Context, partition string, embedding []float32, limit int) (matches []vectorstore.Match, err error) {
	inputEmbeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return matches, fmt.Errorf("db: failed to marshal input embedding: %w", err)
	}
	stmt := gorqlite.ParameterizedStatement{
		Query: `with nearest as (
  select record_id, embedding, distance
  from record_vec
  where partition = ? and embedding match ?
  order by distance asc
  limit ?
)
select
  vec_to_json(n.embedding),
  n.distance,
  r.text,
  r.metadata
from nearest n
inner join record r on r.id = n.record_id
order by n.distance asc;`,
		Arguments: []any{partition, string(inputEmbeddingJSON), limit},
	}
	result, err := q.conn.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return matches, fmt.Errorf("db: nearest query failed: %w", err)
	}
	for result.Next() {
		var m vectorstore.Match
		var embeddingJSON, metadataJSON string
		if err = result.Scan(&embeddingJSON, &m.Distance, &m.Text, &metadataJSON); err != nil {
			return matches, err
		}
		if err = json.Unmarshal([]byte(embeddingJSON), &m.Embedding); err != nil {
			return matches, fmt.Errorf("db: failed to unmarshal embedding: %w", err)
		}
		if err = json.Unmarshal([]byte(metadataJSON), &m.Metadata); err != nil {
			return matches, fmt.Errorf("db: failed to unmarshal metadata: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Count returns the number of records in the partition.
func (q *Queries) Count(ctx context.Context, partition string) (n int64, err error) {
	stmt := gorqlite.ParameterizedStatement{
		Query:     `select count(*) from record where partition = ?`,
		Arguments: []any{partition},
	}
	result, err := q.conn.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("db: count failed: %w", err)
	}
	if !result.Next() {
		return 0, fmt.Errorf("db: count returned no rows")
	}
	err = result.Scan(&n)
	return n, err
}

// DeletePartition removes every record in the partition.
func (q *Queries) DeletePartition(ctx context.Context, partition string) (err error) {
	statements := []gorqlite.ParameterizedStatement{
		{
			Query:     `delete from record_vec where partition = ?`,
			Arguments: []any{partition},
		},
		{
			Query:     `delete from record where partition = ?`,
			Arguments: []any{partition},
		},
	}
	if _, err = q.conn.WriteParameterizedContext(ctx, statements); err != nil {
		return fmt.Errorf("db: delete partition failed: %w", err)
	}
	return nil
}
