// Package store implements durable persistence for enrolled
// identities, their templates, and the match audit log, backed by
// Postgres through a pgxpool connection pool.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildbarn/eyed-registry/pkg/errs"
)

// Template is a fully loaded template row, joined with its owning
// identity's name. IrisCodes/MaskCodes are the raw packed bytes
// exactly as persisted (the codec envelope, and either a plain NPZ
// archive or a HEv1 ciphertext blob, are not unwrapped here); callers
// that need decoded arrays or ciphertexts run them through pkg/codec
// and pkg/he themselves (see pkg/gallery.StoreSource). IrisPopcount/
// MaskPopcount are set only for homomorphically encrypted templates.
type Template struct {
	TemplateID   uuid.UUID
	IdentityID   uuid.UUID
	IdentityName string
	EyeSide      string
	IrisCodes    []byte
	MaskCodes    []byte
	Width        int
	Height       int
	NScales      int
	QualityScore float64
	DeviceID     string
	IrisPopcount []int32
	MaskPopcount []int32
}

// TemplateSummary is the lightweight per-template projection used when
// listing an identity's templates.
type TemplateSummary struct {
	TemplateID uuid.UUID
	EyeSide    string
}

// Identity is an enrolled identity and its templates.
type Identity struct {
	IdentityID uuid.UUID
	Name       string
	CreatedAt  time.Time
	Templates  []TemplateSummary
}

// MatchLogEntry is one row appended to the match audit log.
type MatchLogEntry struct {
	ProbeFrameID       string
	MatchedTemplateID  *uuid.UUID
	MatchedIdentityID  *uuid.UUID
	HammingDistance    float64
	IsMatch            bool
	DeviceID           string
	LatencyMS          float64
}

// NewTemplate is the input shape for PersistTemplate: everything known
// about a template at enrollment time, before it has a created_at.
type NewTemplate struct {
	TemplateID   uuid.UUID
	IdentityID   uuid.UUID
	EyeSide      string
	IrisCodes    []byte
	MaskCodes    []byte
	Width        int
	Height       int
	NScales      int
	QualityScore float64
	DeviceID     string
	IrisPopcount []int32
	MaskPopcount []int32
}

// Store wraps a pgxpool connection pool with the registry's query
// surface.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates the connection pool for dsn, sized to [minSize,
// maxSize] connections.
func Open(ctx context.Context, dsn string, minSize, maxSize int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "failed to parse store DSN")
	}
	cfg.MinConns = minSize
	cfg.MaxConns = maxSize

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "store not reachable")
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureIdentity inserts identity if it does not exist, updating its
// name otherwise.
func (s *Store) EnsureIdentity(ctx context.Context, identityID uuid.UUID, name string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (identity_id, name)
		 VALUES ($1, $2)
		 ON CONFLICT (identity_id) DO UPDATE SET name = EXCLUDED.name`,
		identityID, name,
	)
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, err, "ensure_identity failed")
	}
	return nil
}

// DeleteIdentity deletes an identity and all its templates (cascade).
// Returns false if no identity with that ID existed.
func (s *Store) DeleteIdentity(ctx context.Context, identityID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE identity_id = $1`, identityID)
	if err != nil {
		return false, errs.Wrap(errs.KindStoreUnavailable, err, "delete_identity failed")
	}
	return tag.RowsAffected() == 1, nil
}

// PersistTemplate inserts a single template row.
func (s *Store) PersistTemplate(ctx context.Context, t NewTemplate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO templates
		   (template_id, identity_id, eye_side, iris_codes, mask_codes,
		    width, height, n_scales, quality_score, device_id,
		    iris_popcount, mask_popcount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.TemplateID, t.IdentityID, t.EyeSide, t.IrisCodes, t.MaskCodes,
		t.Width, t.Height, t.NScales, t.QualityScore, t.DeviceID,
		t.IrisPopcount, t.MaskPopcount,
	)
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, err, "persist_template failed")
	}
	return nil
}

// PersistTemplates batch-inserts templates, used by the enrollment
// drain writer.
func (s *Store) PersistTemplates(ctx context.Context, templates []NewTemplate) error {
	batch := &pgx.Batch{}
	for _, t := range templates {
		batch.Queue(
			`INSERT INTO templates
			   (template_id, identity_id, eye_side, iris_codes, mask_codes,
			    width, height, n_scales, quality_score, device_id,
			    iris_popcount, mask_popcount)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.TemplateID, t.IdentityID, t.EyeSide, t.IrisCodes, t.MaskCodes,
			t.Width, t.Height, t.NScales, t.QualityScore, t.DeviceID,
			t.IrisPopcount, t.MaskPopcount,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range templates {
		if _, err := br.Exec(); err != nil {
			return errs.Wrap(errs.KindStoreUnavailable, err, "batch persist_template failed")
		}
	}
	return nil
}

// EnsureIdentities batch-upserts a set of (identityID, name) pairs,
// deduplicated by the caller, used by the enrollment drain writer.
func (s *Store) EnsureIdentities(ctx context.Context, ids []uuid.UUID, names []string) error {
	batch := &pgx.Batch{}
	for i := range ids {
		batch.Queue(
			`INSERT INTO identities (identity_id, name)
			 VALUES ($1, $2)
			 ON CONFLICT (identity_id) DO UPDATE SET name = EXCLUDED.name`,
			ids[i], names[i],
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ids {
		if _, err := br.Exec(); err != nil {
			return errs.Wrap(errs.KindStoreUnavailable, err, "batch ensure_identity failed")
		}
	}
	return nil
}

// LoadAllTemplates loads every template for gallery initialization.
func (s *Store) LoadAllTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.template_id, t.identity_id, i.name, t.eye_side,
		        t.iris_codes, t.mask_codes, t.width, t.height,
		        t.n_scales, t.quality_score, t.device_id,
		        t.iris_popcount, t.mask_popcount
		 FROM templates t JOIN identities i ON t.identity_id = i.identity_id`,
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "load_all_templates failed")
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.TemplateID, &t.IdentityID, &t.IdentityName, &t.EyeSide,
			&t.IrisCodes, &t.MaskCodes, &t.Width, &t.Height, &t.NScales,
			&t.QualityScore, &t.DeviceID, &t.IrisPopcount, &t.MaskPopcount); err != nil {
			return nil, errs.Wrap(errs.KindStoreUnavailable, err, "load_all_templates scan failed")
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "load_all_templates iteration failed")
	}
	return templates, nil
}

// LoadTemplate loads a single template by ID, with the same columns
// LoadAllTemplates returns, for detail views. Returns KindNotFound if
// no such template exists.
func (s *Store) LoadTemplate(ctx context.Context, templateID uuid.UUID) (*Template, error) {
	var t Template
	err := s.pool.QueryRow(ctx,
		`SELECT t.template_id, t.identity_id, i.name, t.eye_side,
		        t.iris_codes, t.mask_codes, t.width, t.height,
		        t.n_scales, t.quality_score, t.device_id,
		        t.iris_popcount, t.mask_popcount
		 FROM templates t JOIN identities i ON t.identity_id = i.identity_id
		 WHERE t.template_id = $1`,
		templateID,
	).Scan(&t.TemplateID, &t.IdentityID, &t.IdentityName, &t.EyeSide,
		&t.IrisCodes, &t.MaskCodes, &t.Width, &t.Height, &t.NScales,
		&t.QualityScore, &t.DeviceID, &t.IrisPopcount, &t.MaskPopcount)
	if err == pgx.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "template not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "load_template failed")
	}
	return &t, nil
}

// ListIdentities lists every enrolled identity with its templates,
// ordered by enrollment time.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.identity_id, i.name, i.created_at, t.template_id, t.eye_side
		 FROM identities i LEFT JOIN templates t ON i.identity_id = t.identity_id
		 ORDER BY i.created_at`,
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "list_identities failed")
	}
	defer rows.Close()

	order := make([]uuid.UUID, 0)
	byID := make(map[uuid.UUID]*Identity)
	for rows.Next() {
		var (
			identityID uuid.UUID
			name       string
			createdAt  time.Time
			templateID *uuid.UUID
			eyeSide    *string
		)
		if err := rows.Scan(&identityID, &name, &createdAt, &templateID, &eyeSide); err != nil {
			return nil, errs.Wrap(errs.KindStoreUnavailable, err, "list_identities scan failed")
		}
		id, ok := byID[identityID]
		if !ok {
			id = &Identity{IdentityID: identityID, Name: name, CreatedAt: createdAt}
			byID[identityID] = id
			order = append(order, identityID)
		}
		if templateID != nil {
			id.Templates = append(id.Templates, TemplateSummary{TemplateID: *templateID, EyeSide: *eyeSide})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "list_identities iteration failed")
	}

	out := make([]Identity, len(order))
	for i, id := range order {
		out[i] = *byID[id]
	}
	return out, nil
}

// AppendMatchLog batch-inserts match audit log entries.
func (s *Store) AppendMatchLog(ctx context.Context, entries []MatchLogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO match_log
			   (probe_frame_id, matched_template_id, matched_identity_id,
			    hamming_distance, is_match, device_id, latency_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ProbeFrameID, e.MatchedTemplateID, e.MatchedIdentityID,
			e.HammingDistance, e.IsMatch, e.DeviceID, e.LatencyMS,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return errs.Wrap(errs.KindStoreUnavailable, err, "append match_log failed")
		}
	}
	return nil
}

// Ping reports whether the pool can still reach the store, used by
// the health snapshot.
func (s *Store) Ping(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}
