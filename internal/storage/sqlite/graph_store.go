package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lattice-kg/lattice/internal/storage"
	"github.com/lattice-kg/lattice/pkg/types"
)

// GraphStore implements storage.Store using SQLite.
type GraphStore struct {
	db *sql.DB
}

// NewGraphStore opens a SQLite database, configures WAL mode, and creates
// the schema.
func NewGraphStore(dsn string) (*GraphStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout so that callers wait instead of getting an immediate
	// SQLITE_BUSY error when the connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &GraphStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *GraphStore) Close() error {
	return s.db.Close()
}

// CreateProject creates a new project with a unique name.
func (s *GraphStore) CreateProject(ctx context.Context, name, description string) (*types.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: project name is required", storage.ErrInvalidInput)
	}

	p := &types.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", storage.ErrDuplicateName, name)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return p, nil
}

// GetProject retrieves a project by ID.
func (s *GraphStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	return s.getProjectBy(ctx, "id", id)
}

// GetProjectByName retrieves a project by its unique name.
func (s *GraphStore) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	return s.getProjectBy(ctx, "name", name)
}

func (s *GraphStore) getProjectBy(ctx context.Context, column, value string) (*types.Project, error) {
	p := &types.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM projects WHERE `+column+` = ?`,
		value).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %q", storage.ErrNotFound, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects with their aggregate counts, ordered by
// activity score descending then name ascending.
func (s *GraphStore) ListProjects(ctx context.Context) ([]*types.ProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at,
		       (SELECT COUNT(*) FROM entities e WHERE e.project_id = p.id) AS entity_count,
		       (SELECT COUNT(*) FROM relationships r WHERE r.project_id = p.id) AS relationship_count
		FROM projects p
		ORDER BY (2 * entity_count + relationship_count) DESC, p.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	summaries := make([]*types.ProjectSummary, 0)
	for rows.Next() {
		ps := &types.ProjectSummary{}
		if err := rows.Scan(&ps.ID, &ps.Name, &ps.Description, &ps.CreatedAt,
			&ps.EntityCount, &ps.RelationshipCount); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		ps.ActivityScore = 2*ps.EntityCount + ps.RelationshipCount
		summaries = append(summaries, ps)
	}
	return summaries, rows.Err()
}

// DeleteProject removes a project and everything it contains, atomically.
func (s *GraphStore) DeleteProject(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM observations WHERE entity_id IN (SELECT id FROM entities WHERE project_id = ?)`,
		id); err != nil {
		return false, fmt.Errorf("failed to delete observations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE project_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete relationships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE project_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete entities: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return affected > 0, nil
}

// CreateEntity creates an entity in the project.
func (s *GraphStore) CreateEntity(ctx context.Context, projectID string, e *types.Entity) (*types.Entity, error) {
	if e == nil {
		return nil, storage.ErrInvalidInput
	}
	if strings.TrimSpace(e.Name) == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(e.Type) == "" {
		return nil, fmt.Errorf("%w: entity type is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(e.Description) == "" {
		return nil, fmt.Errorf("%w: entity description is required", storage.ErrInvalidInput)
	}

	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	created := &types.Entity{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Name:         e.Name,
		Type:         e.Type,
		Description:  e.Description,
		ParentID:     e.ParentID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Observations: []types.Observation{},
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, project_id, name, type, description, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.ProjectID, created.Name, created.Type,
		created.Description, nullable(created.ParentID), created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return created, nil
}

// GetEntity retrieves an entity with its observations, oldest first.
func (s *GraphStore) GetEntity(ctx context.Context, projectID, entityID string) (*types.Entity, error) {
	e := &types.Entity{}
	var parentID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, type, description, parent_id, created_at, updated_at
		FROM entities WHERE id = ? AND project_id = ?`,
		entityID, projectID).Scan(&e.ID, &e.ProjectID, &e.Name, &e.Type,
		&e.Description, &parentID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	e.ParentID = parentID.String

	if err := s.attachObservations(ctx, []*types.Entity{e}); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEntities returns the project's entities matching opts, newest first.
func (s *GraphStore) ListEntities(ctx context.Context, projectID string, opts storage.ListOptions) ([]*types.Entity, error) {
	query := `
		SELECT id, project_id, name, type, description, parent_id, created_at, updated_at
		FROM entities WHERE project_id = ?`
	args := []interface{}{projectID}

	if opts.Type != "" {
		query += ` AND type = ?`
		args = append(args, opts.Type)
	}
	if opts.NameContains != "" {
		query += ` AND LOWER(name) LIKE '%' || LOWER(?) || '%'`
		args = append(args, opts.NameContains)
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*types.Entity, 0)
	for rows.Next() {
		e := &types.Entity{}
		var parentID sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Type,
			&e.Description, &parentID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.ParentID = parentID.String
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachObservations(ctx, entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// UpdateEntityDescription replaces an entity's description.
func (s *GraphStore) UpdateEntityDescription(ctx context.Context, projectID, entityID, description string) (*types.Entity, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET description = ?, updated_at = ?
		WHERE id = ? AND project_id = ?`,
		description, time.Now().UTC(), entityID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}

	return s.GetEntity(ctx, projectID, entityID)
}

// DeleteEntity removes an entity with its observations and edges, atomically.
func (s *GraphStore) DeleteEntity(ctx context.Context, projectID, entityID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM observations WHERE entity_id = ?`, entityID); err != nil {
		return false, fmt.Errorf("failed to delete observations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relationships WHERE project_id = ? AND (from_id = ? OR to_id = ?)`,
		projectID, entityID, entityID); err != nil {
		return false, fmt.Errorf("failed to delete relationships: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE id = ? AND project_id = ?`, entityID, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to delete entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return affected > 0, nil
}

// AddObservation appends a free-text observation to an entity.
func (s *GraphStore) AddObservation(ctx context.Context, projectID, entityID, text string) (*types.Observation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: observation text is required", storage.ErrInvalidInput)
	}
	if err := s.requireEntity(ctx, projectID, entityID); err != nil {
		return nil, err
	}

	o := &types.Observation{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (id, entity_id, text, created_at) VALUES (?, ?, ?, ?)`,
		o.ID, o.EntityID, o.Text, o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add observation: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE entities SET updated_at = ? WHERE id = ?`,
		o.CreatedAt, entityID); err != nil {
		return nil, fmt.Errorf("failed to touch entity: %w", err)
	}

	return o, nil
}

// DeleteObservation removes one observation from an entity. The entity must
// exist; a missing observation is treated as already deleted.
func (s *GraphStore) DeleteObservation(ctx context.Context, projectID, entityID, observationID string) error {
	if err := s.requireEntity(ctx, projectID, entityID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM observations WHERE id = ? AND entity_id = ?`,
		observationID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete observation: %w", err)
	}
	return nil
}

// CreateRelationship creates a directed, typed edge between two entities.
func (s *GraphStore) CreateRelationship(ctx context.Context, projectID string, r *types.Relationship) (*types.Relationship, error) {
	if r == nil {
		return nil, storage.ErrInvalidInput
	}
	if strings.TrimSpace(r.Type) == "" {
		return nil, fmt.Errorf("%w: relationship type is required", storage.ErrInvalidInput)
	}
	if r.FromID == "" || r.ToID == "" {
		return nil, fmt.Errorf("%w: both endpoints are required", storage.ErrInvalidInput)
	}

	if err := s.requireEntity(ctx, projectID, r.FromID); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := s.requireEntity(ctx, projectID, r.ToID); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	created := &types.Relationship{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		FromID:      r.FromID,
		ToID:        r.ToID,
		Type:        r.Type,
		Description: r.Description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, project_id, from_id, to_id, type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.ProjectID, created.FromID, created.ToID,
		created.Type, created.Description, created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create relationship: %w", err)
	}
	return created, nil
}

// DeleteRelationship removes an edge.
func (s *GraphStore) DeleteRelationship(ctx context.Context, projectID, relationshipID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE id = ? AND project_id = ?`,
		relationshipID, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to delete relationship: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetRelationships returns the project's edges matching the filter, newest first.
func (s *GraphStore) GetRelationships(ctx context.Context, projectID string, filter storage.RelationshipFilter) ([]*types.Relationship, error) {
	query := `
		SELECT id, project_id, from_id, to_id, type, description, created_at
		FROM relationships WHERE project_id = ?`
	args := []interface{}{projectID}

	if filter.FromID != "" {
		query += ` AND from_id = ?`
		args = append(args, filter.FromID)
	}
	if filter.ToID != "" {
		query += ` AND to_id = ?`
		args = append(args, filter.ToID)
	}
	if filter.EntityID != "" {
		query += ` AND (from_id = ? OR to_id = ?)`
		args = append(args, filter.EntityID, filter.EntityID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	defer rows.Close()

	rels := make([]*types.Relationship, 0)
	for rows.Next() {
		r := &types.Relationship{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FromID, &r.ToID,
			&r.Type, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// GetRelatedEntities returns the 1-hop neighbors of an entity in the given
// direction, de-duplicated by entity ID.
func (s *GraphStore) GetRelatedEntities(ctx context.Context, projectID, entityID string, direction types.Direction) ([]*storage.RelatedEntity, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("%w: direction must be incoming, outgoing, or both", storage.ErrInvalidInput)
	}
	if err := s.requireEntity(ctx, projectID, entityID); err != nil {
		return nil, err
	}

	rels, err := s.GetRelationships(ctx, projectID, storage.RelationshipFilter{EntityID: entityID})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	related := make([]*storage.RelatedEntity, 0)
	for _, r := range rels {
		var neighborID string
		var dir types.Direction
		switch {
		case r.FromID == entityID && (direction == types.DirectionOutgoing || direction == types.DirectionBoth):
			neighborID, dir = r.ToID, types.DirectionOutgoing
		case r.ToID == entityID && (direction == types.DirectionIncoming || direction == types.DirectionBoth):
			neighborID, dir = r.FromID, types.DirectionIncoming
		default:
			continue
		}
		if seen[neighborID] {
			continue
		}
		seen[neighborID] = true

		neighbor, err := s.GetEntity(ctx, projectID, neighborID)
		if err != nil {
			// An edge may survive briefly past its endpoint under
			// concurrent deletes; skip rather than fail the traversal.
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		related = append(related, &storage.RelatedEntity{
			Entity:       neighbor,
			Relationship: r,
			Direction:    dir,
		})
	}
	return related, nil
}

// Stats returns aggregate counts, globally or scoped to one project.
func (s *GraphStore) Stats(ctx context.Context, projectID string) (*types.GraphStats, error) {
	stats := &types.GraphStats{}
	var err error
	if projectID == "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM projects),
			       (SELECT COUNT(*) FROM entities),
			       (SELECT COUNT(*) FROM relationships),
			       (SELECT COUNT(*) FROM observations)`).
			Scan(&stats.Projects, &stats.Entities, &stats.Relationships, &stats.Observations)
	} else {
		stats.Projects = 1
		err = s.db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM entities WHERE project_id = ?),
			       (SELECT COUNT(*) FROM relationships WHERE project_id = ?),
			       (SELECT COUNT(*) FROM observations o
			        JOIN entities e ON e.id = o.entity_id WHERE e.project_id = ?)`,
			projectID, projectID, projectID).
			Scan(&stats.Entities, &stats.Relationships, &stats.Observations)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

// requireEntity returns ErrNotFound unless the entity exists in the project.
func (s *GraphStore) requireEntity(ctx context.Context, projectID, entityID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM entities WHERE id = ? AND project_id = ?)`,
		entityID, projectID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check entity: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	return nil
}

// attachObservations loads observations for the given entities in one query,
// oldest first, and guarantees each entity carries a non-nil slice.
func (s *GraphStore) attachObservations(ctx context.Context, entities []*types.Entity) error {
	byID := make(map[string]*types.Entity, len(entities))
	placeholders := make([]string, 0, len(entities))
	args := make([]interface{}, 0, len(entities))
	for _, e := range entities {
		e.Observations = []types.Observation{}
		byID[e.ID] = e
		placeholders = append(placeholders, "?")
		args = append(args, e.ID)
	}
	if len(entities) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, text, created_at FROM observations
		WHERE entity_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY created_at ASC, id`, args...)
	if err != nil {
		return fmt.Errorf("failed to load observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o types.Observation
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Text, &o.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan observation: %w", err)
		}
		if e, ok := byID[o.EntityID]; ok {
			e.Observations = append(e.Observations, o)
		}
	}
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
