package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/whetstone/internal/graph"
)

// Repository implements graph.Repository using Neo4j. Files are
// (:File {repo, path}) nodes linked to (:Unit {id}) nodes by DEFINES.
type Repository struct {
	driver neo4j.DriverWithContext
}

// New creates a Neo4j-backed repository.
func New(ctx context.Context, uri, username, password string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Repository{driver: driver}, nil
}

func (r *Repository) StoreFile(ctx context.Context, f graph.File) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MERGE (f:File {repo: $repo, path: $path}) SET f.language = $lang "+
				"WITH f OPTIONAL MATCH (f)-[:DEFINES]->(u:Unit) DETACH DELETE u",
			map[string]any{"repo": f.Repo, "path": f.Path, "lang": f.Language})
		if err != nil {
			return nil, err
		}
		for _, u := range f.Units {
			_, err := tx.Run(ctx,
				"MATCH (f:File {repo: $repo, path: $path}) "+
					"MERGE (u:Unit {id: $id}) "+
					"SET u.name = $name, u.type = $type, u.line_start = $start, u.line_end = $end "+
					"MERGE (f)-[:DEFINES]->(u)",
				map[string]any{
					"repo": f.Repo, "path": f.Path,
					"id": u.ID, "name": u.Name, "type": u.Type,
					"start": u.LineStart, "end": u.LineEnd,
				})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store file %s: %w", f.Path, err)
	}
	return nil
}

func (r *Repository) FileUnits(ctx context.Context, repo, path string) ([]graph.Unit, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (:File {repo: $repo, path: $path})-[:DEFINES]->(u:Unit) "+
				"RETURN u.id AS id, u.name AS name, u.type AS type, u.line_start AS start, u.line_end AS end",
			map[string]any{"repo": repo, "path": path})
		if err != nil {
			return nil, err
		}
		var units []graph.Unit
		for records.Next(ctx) {
			rec := records.Record()
			id, _ := rec.Get("id")
			name, _ := rec.Get("name")
			typ, _ := rec.Get("type")
			start, _ := rec.Get("start")
			end, _ := rec.Get("end")
			units = append(units, graph.Unit{
				ID:        asString(id),
				Name:      asString(name),
				Type:      asString(typ),
				LineStart: asInt(start),
				LineEnd:   asInt(end),
			})
		}
		return units, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load units of %s: %w", path, err)
	}
	units := result.([]graph.Unit)
	graph.SortUnits(units)
	return units, nil
}

func (r *Repository) DeleteFile(ctx context.Context, repo, path string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MATCH (f:File {repo: $repo, path: $path}) OPTIONAL MATCH (f)-[:DEFINES]->(u:Unit) DETACH DELETE f, u",
			map[string]any{"repo": repo, "path": path})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return nil
}

func (r *Repository) DeleteRepo(ctx context.Context, repo string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MATCH (f:File {repo: $repo}) OPTIONAL MATCH (f)-[:DEFINES]->(u:Unit) DETACH DELETE f, u",
			map[string]any{"repo": repo})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("delete repo %s: %w", repo, err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graph.Repository = (*Repository)(nil)

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt accepts the int64 the driver returns for integer properties.
func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
