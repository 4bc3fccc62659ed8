package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
)

type PGConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// PG is a pgvector-backed implementation of the same index contract as
// Memory, for deployments that want collections to survive a restart. The
// in-memory index remains the default.
type PG struct {
	config   PGConfig
	embedder types.Embedder
	pool     *pgxpool.Pool
}

func NewPG(ctx context.Context, config PGConfig, embedder types.Embedder) (*PG, error) {
	if config.TableName == "" {
		config.TableName = "vector_records"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	idx := &PG{config: config, embedder: embedder, pool: pool}
	if err := idx.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PG) initialize(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			collection_id TEXT NOT NULL,
			content TEXT,
			metadata JSONB,
			embedding vector(%d)
		)`, p.config.TableName, p.config.VectorDim)

	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		p.config.TableName, p.config.TableName)

	if _, err := p.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

func (p *PG) AddRecords(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	// embed everything first so a provider failure writes nothing
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, collection_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)`, p.config.TableName)

	for i, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %v", err)
		}

		_, err = tx.Exec(ctx, stmt,
			ch.ID,
			collectionID,
			ch.Text,
			meta,
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert record: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

func (p *PG) DeleteRecords(ctx context.Context, collectionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE collection_id = $1 AND id = ANY($2)`, p.config.TableName)
	if _, err := p.pool.Exec(ctx, stmt, collectionID, ids); err != nil {
		return fmt.Errorf("failed to delete records: %v", err)
	}
	return nil
}

func (p *PG) ClearCollection(ctx context.Context, collectionID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE collection_id = $1`, p.config.TableName)
	if _, err := p.pool.Exec(ctx, stmt, collectionID); err != nil {
		return fmt.Errorf("failed to clear collection: %v", err)
	}
	return nil
}

func (p *PG) Search(ctx context.Context, collectionID, query string, topK int) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE collection_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, p.config.TableName)

	rows, err := p.pool.Query(ctx, stmt, pgvector.NewVector(queryVec), collectionID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %v", err)
	}
	defer rows.Close()

	var results []models.RetrievalResult
	for rows.Next() {
		var content string
		var metaRaw []byte
		var similarity float32
		if err := rows.Scan(&content, &metaRaw, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if similarity <= SimilarityThreshold {
			continue
		}

		var meta models.ChunkMetadata
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &meta); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %v", err)
			}
		}

		results = append(results, models.RetrievalResult{
			Text:          content,
			Similarity:    similarity,
			DocumentName:  meta.DocumentName,
			SequenceIndex: meta.SequenceIndex,
		})
	}
	return results, rows.Err()
}

func (p *PG) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
