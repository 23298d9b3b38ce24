// Package knowledge is the graph-backed store of knowledge items, partners
// and the CONNECTED_TO relationship edges between them.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joss/copilot/internal/graph"
	"github.com/joss/copilot/internal/logging"
)

// KindPerson marks items that are conversation partners.
const KindPerson = "person"

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("knowledge item not found")

	// ErrNotPartner is returned when an item exists but is not a person.
	ErrNotPartner = errors.New("knowledge item is not a person")
)

// Item is a node in the knowledge graph.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	RepoPath    string `json:"repo_path,omitempty"`
	Email       string `json:"email,omitempty"`

	// Tags are matched like the name, at a lower weight
	Tags []string `json:"tags,omitempty"`

	// Weight scales the search score; zero counts as one
	Weight float64 `json:"weight,omitempty"`

	Updated time.Time `json:"updated_at,omitempty"`
}

// IsPerson reports whether the item is a partner.
func (i Item) IsPerson() bool {
	return i.Kind == KindPerson
}

// Store reads and writes knowledge items.
type Store struct {
	db  graph.Driver
	log *logging.Logger
	now func() time.Time
}

// NewStore creates a store on a graph driver.
func NewStore(db graph.Driver) *Store {
	return &Store{
		db:  db,
		log: logging.New("knowledge"),
		now: time.Now,
	}
}

const itemFields = `k.id AS id, k.name AS name, k.kind AS kind,
	k.description AS description, k.repo_path AS repo_path, k.email AS email,
	k.tags AS tags, k.weight AS weight, k.updated_at AS updated_at`

func itemFromRecord(r graph.Record) Item {
	item := Item{
		ID:          graph.GetString(r, "id"),
		Name:        graph.GetString(r, "name"),
		Kind:        graph.GetString(r, "kind"),
		Description: graph.GetString(r, "description"),
		RepoPath:    graph.GetString(r, "repo_path"),
		Email:       graph.GetString(r, "email"),
		Tags:        graph.GetStringSlice(r, "tags"),
		Weight:      graph.GetFloat(r, "weight"),
	}
	if ms := graph.GetInt64(r, "updated_at"); ms > 0 {
		item.Updated = time.UnixMilli(ms).UTC()
	}
	return item
}

// Upsert creates or updates an item by id.
func (s *Store) Upsert(ctx context.Context, item Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("item id cannot be empty")
	}
	if item.Kind == "" {
		item.Kind = "note"
	}
	tags := make([]string, 0, len(item.Tags))
	for _, t := range item.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	query := `
		MERGE (k:KnowledgeItem {id: $id})
		SET k.name = $name,
		    k.kind = $kind,
		    k.description = $description,
		    k.repo_path = $repo_path,
		    k.email = $email,
		    k.tags = $tags,
		    k.weight = $weight,
		    k.updated_at = $updated_at
	`
	err := s.db.ExecuteWrite(ctx, query, map[string]any{
		"id":          item.ID,
		"name":        item.Name,
		"kind":        item.Kind,
		"description": item.Description,
		"repo_path":   item.RepoPath,
		"email":       item.Email,
		"tags":        tags,
		"weight":      item.Weight,
		"updated_at":  s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", item.ID, err)
	}
	return nil
}

// Get loads one item.
func (s *Store) Get(ctx context.Context, id string) (Item, error) {
	query := `MATCH (k:KnowledgeItem {id: $id}) RETURN ` + itemFields + ` LIMIT 1`
	records, err := s.db.Execute(ctx, query, map[string]any{"id": id})
	if err != nil {
		return Item{}, fmt.Errorf("get %s: %w", id, err)
	}
	if len(records) == 0 {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return itemFromRecord(records[0]), nil
}

// Partner loads an item and checks it is a person.
func (s *Store) Partner(ctx context.Context, id string) (Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if !item.IsPerson() {
		return Item{}, fmt.Errorf("%w: %s", ErrNotPartner, id)
	}
	return item, nil
}

// List returns items of one kind, or every item when kind is empty.
func (s *Store) List(ctx context.Context, kind string) ([]Item, error) {
	query := `MATCH (k:KnowledgeItem) RETURN ` + itemFields + ` ORDER BY name`
	params := map[string]any{}
	if kind != "" {
		query = `MATCH (k:KnowledgeItem {kind: $kind}) RETURN ` + itemFields + ` ORDER BY name`
		params["kind"] = kind
	}

	records, err := s.db.Execute(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, itemFromRecord(r))
	}
	return items, nil
}

// Connections returns the ids connected to an item.
func (s *Store) Connections(ctx context.Context, id string) ([]string, error) {
	query := `
		MATCH (:KnowledgeItem {id: $id})-[:CONNECTED_TO]->(o:KnowledgeItem)
		RETURN DISTINCT o.id AS id
	`
	records, err := s.db.Execute(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("connections of %s: %w", id, err)
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if v := graph.GetString(r, "id"); v != "" {
			ids = append(ids, v)
		}
	}
	return ids, nil
}

// Connect stores a bidirectional CONNECTED_TO edge. It is idempotent.
func (s *Store) Connect(ctx context.Context, a, b string) error {
	query := `
		MATCH (a:KnowledgeItem {id: $a}), (b:KnowledgeItem {id: $b})
		MERGE (a)-[:CONNECTED_TO]->(b)
		MERGE (b)-[:CONNECTED_TO]->(a)
	`
	if err := s.db.ExecuteWrite(ctx, query, map[string]any{"a": a, "b": b}); err != nil {
		return fmt.Errorf("connect %s-%s: %w", a, b, err)
	}
	s.log.Debug("edge_saved", map[string]interface{}{"a": a, "b": b})
	return nil
}
