package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/animetrack/services/library/internal/domain"
)

// PostgresStore is the production Postgres-backed implementation.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const mediaColumns = `id, kind, external_id, titles, format, source, country, lengths, release,
genres, synonyms, relations, characters, description, images, activity_at`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullableExternalID(id int) *int {
	if id == 0 {
		return nil
	}
	return &id
}

func marshalAll(vs ...any) ([][]byte, error) {
	out := make([][]byte, len(vs))
	for i, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanMedia(row pgx.Row) (domain.Media, error) {
	var (
		m      domain.Media
		id     uuid.UUID
		kind   string
		extID  *int
		titles []byte
		images []byte
	)
	var lengths, release, genres, synonyms, rels, chars []byte
	if err := row.Scan(&id, &kind, &extID, &titles, &m.Format, &m.Source, &m.Country, &lengths, &release,
		&genres, &synonyms, &rels, &chars, &m.Description, &images, &m.ActivityAt); err != nil {
		return domain.Media{}, err
	}
	m.ID = id.String()
	m.Kind = domain.Kind(kind)
	if extID != nil {
		m.ExternalID = *extID
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{titles, &m.Titles}, {lengths, &m.Lengths}, {release, &m.Release}, {genres, &m.Genres},
		{synonyms, &m.Synonyms}, {rels, &m.Relations}, {chars, &m.Characters}, {images, &m.Images},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return domain.Media{}, fmt.Errorf("decode media %s: %w", m.ID, err)
		}
	}
	m.ActivityAt = m.ActivityAt.UTC()
	return m, nil
}

func (s *PostgresStore) FindMediaByExternalID(ctx context.Context, kind domain.Kind, externalID int) (domain.Media, error) {
	if externalID == 0 {
		return domain.Media{}, ErrNotFound
	}
	m, err := scanMedia(s.db.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE kind=$1 AND external_id=$2`, string(kind), externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Media{}, ErrNotFound
		}
		return domain.Media{}, fmt.Errorf("find media %s/%d: %w", kind, externalID, err)
	}
	return m, nil
}

func (s *PostgresStore) GetMedia(ctx context.Context, kind domain.Kind, id string) (domain.Media, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return domain.Media{}, ErrNotFound
	}
	m, err := scanMedia(s.db.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE id=$1 AND kind=$2`, uid, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Media{}, ErrNotFound
		}
		return domain.Media{}, fmt.Errorf("get media %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) CreateMedia(ctx context.Context, m domain.Media) (domain.Media, error) {
	m.ID = uuid.NewString()
	if m.ActivityAt.IsZero() {
		m.ActivityAt = time.Now().UTC()
	}
	m.Genres = emptyIfNil(m.Genres)
	m.Synonyms = emptyIfNil(m.Synonyms)
	m.Relations = emptyIfNil(m.Relations)
	m.Characters = emptyIfNil(m.Characters)

	js, err := marshalAll(m.Titles, m.Lengths, m.Release, m.Genres, m.Synonyms, m.Relations, m.Characters, m.Images)
	if err != nil {
		return domain.Media{}, fmt.Errorf("encode media: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO media (id, kind, external_id, titles, format, source, country, lengths, release,
                   genres, synonyms, relations, characters, description, images, activity_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, string(m.Kind), nullableExternalID(m.ExternalID), js[0], m.Format, m.Source, m.Country, js[1], js[2],
		js[3], js[4], js[5], js[6], m.Description, js[7], m.ActivityAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Media{}, ErrConflict
		}
		return domain.Media{}, fmt.Errorf("insert media: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateMedia(ctx context.Context, kind domain.Kind, id string, patch MediaPatch) (domain.Media, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return domain.Media{}, ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Media{}, fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMedia(tx.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE id=$1 AND kind=$2 FOR UPDATE`, uid, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Media{}, ErrNotFound
		}
		return domain.Media{}, fmt.Errorf("lock media %s: %w", id, err)
	}
	now := time.Now().UTC()
	patch.apply(&m, now)
	m.Genres = emptyIfNil(m.Genres)
	m.Relations = emptyIfNil(m.Relations)
	m.Characters = emptyIfNil(m.Characters)

	js, err := marshalAll(m.Release, m.Lengths, m.Genres, m.Relations, m.Characters)
	if err != nil {
		return domain.Media{}, fmt.Errorf("encode media: %w", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE media
SET release=$2, lengths=$3, genres=$4, relations=$5, characters=$6, activity_at=$7, updated_at=$8
WHERE id=$1`,
		uid, js[0], js[1], js[2], js[3], js[4], m.ActivityAt, now); err != nil {
		return domain.Media{}, fmt.Errorf("update media %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Media{}, fmt.Errorf("db commit: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListImported(ctx context.Context, kind domain.Kind, limit int) ([]ImportedRef, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, kind, external_id FROM media
WHERE external_id IS NOT NULL AND ($1 = '' OR kind = $1)
ORDER BY activity_at ASC, id ASC
LIMIT $2`, string(kind), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list imported: %w", err)
	}
	defer rows.Close()

	var out []ImportedRef
	for rows.Next() {
		var (
			id    uuid.UUID
			k     string
			extID int
		)
		if err := rows.Scan(&id, &k, &extID); err != nil {
			return nil, fmt.Errorf("scan imported: %w", err)
		}
		out = append(out, ImportedRef{ID: id.String(), Kind: domain.Kind(k), ExternalID: extID})
	}
	return out, rows.Err()
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (s *PostgresStore) DeleteMedia(ctx context.Context, kind domain.Kind, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	// character_media rows go with it via ON DELETE CASCADE.
	tag, err := s.db.Exec(ctx, `DELETE FROM media WHERE id=$1 AND kind=$2`, uid, string(kind))
	if err != nil {
		return fmt.Errorf("delete media %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Characters ─────────────────────────────────────────────────────────────

const characterColumns = `id, external_id, name, gender, age, date_of_birth, image, description`

func (s *PostgresStore) scanCharacter(ctx context.Context, row pgx.Row) (domain.Character, error) {
	var (
		c         domain.Character
		id        uuid.UUID
		extID     *int
		name, dob []byte
	)
	if err := row.Scan(&id, &extID, &name, &c.Gender, &c.Age, &dob, &c.Image, &c.Description); err != nil {
		return domain.Character{}, err
	}
	c.ID = id.String()
	if extID != nil {
		c.ExternalID = *extID
	}
	if err := json.Unmarshal(name, &c.Name); err != nil {
		return domain.Character{}, fmt.Errorf("decode character %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(dob, &c.DateOfBirth); err != nil {
		return domain.Character{}, fmt.Errorf("decode character %s: %w", c.ID, err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT media_id, kind FROM character_media WHERE character_id=$1 ORDER BY attached_at ASC, media_id ASC`, id)
	if err != nil {
		return domain.Character{}, fmt.Errorf("load character media: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			mid  uuid.UUID
			kind string
		)
		if err := rows.Scan(&mid, &kind); err != nil {
			return domain.Character{}, fmt.Errorf("scan character media: %w", err)
		}
		c.Media = append(c.Media, domain.MediaRef{MediaID: mid.String(), Kind: domain.Kind(kind)})
	}
	return c, rows.Err()
}

func (s *PostgresStore) FindCharacterByExternalID(ctx context.Context, externalID int) (domain.Character, error) {
	if externalID == 0 {
		return domain.Character{}, ErrNotFound
	}
	c, err := s.scanCharacter(ctx, s.db.QueryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE external_id=$1`, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Character{}, ErrNotFound
		}
		return domain.Character{}, fmt.Errorf("find character %d: %w", externalID, err)
	}
	return c, nil
}

func (s *PostgresStore) GetCharacter(ctx context.Context, id string) (domain.Character, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return domain.Character{}, ErrNotFound
	}
	c, err := s.scanCharacter(ctx, s.db.QueryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id=$1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Character{}, ErrNotFound
		}
		return domain.Character{}, fmt.Errorf("get character %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) CreateCharacter(ctx context.Context, c domain.Character) (domain.Character, error) {
	c.ID = uuid.NewString()
	js, err := marshalAll(c.Name, c.DateOfBirth)
	if err != nil {
		return domain.Character{}, fmt.Errorf("encode character: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Character{}, fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO characters (id, external_id, name, gender, age, date_of_birth, image, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, nullableExternalID(c.ExternalID), js[0], c.Gender, c.Age, js[1], c.Image, c.Description); err != nil {
		if isUniqueViolation(err) {
			return domain.Character{}, ErrConflict
		}
		return domain.Character{}, fmt.Errorf("insert character: %w", err)
	}
	for _, ref := range c.Media {
		if err := attach(ctx, tx, c.ID, ref); err != nil {
			return domain.Character{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Character{}, fmt.Errorf("db commit: %w", err)
	}
	return c, nil
}

func attach(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, characterID string, ref domain.MediaRef) error {
	_, err := q.Exec(ctx, `
INSERT INTO character_media (character_id, media_id, kind)
VALUES ($1::uuid, $2::uuid, $3)
ON CONFLICT (character_id, media_id) DO NOTHING`,
		characterID, ref.MediaID, string(ref.Kind))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == pgerrcode.ForeignKeyViolation || pgErr.Code == pgerrcode.InvalidTextRepresentation) {
			return ErrNotFound
		}
		return fmt.Errorf("attach character %s to %s: %w", characterID, ref.MediaID, err)
	}
	return nil
}

func (s *PostgresStore) AttachCharacterMedia(ctx context.Context, characterID string, ref domain.MediaRef) error {
	return attach(ctx, s.db, characterID, ref)
}

var _ Store = (*PostgresStore)(nil)
