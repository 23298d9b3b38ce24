// Package share obtains shareable references for knowledge items by
// publishing their repositories through the radicle CLI.
package share

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/exec"
	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/logging"
)

// ErrNoRepository is returned for items without a backing repository.
var ErrNoRepository = errors.New("item has no repository")

var ridPattern = regexp.MustCompile(`rad:z[1-9A-HJ-NP-Za-km-z]+`)

// Reference is a shareable handle for one item.
type Reference struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	RID    string `json:"rid"`
}

// Sharer is the sharing collaborator.
type Sharer interface {
	Share(ctx context.Context, item knowledge.Item) (Reference, error)
}

// Radicle shares item repositories with the rad CLI.
type Radicle struct {
	cfg    config.ShareConfig
	runner exec.Runner
	cache  *gocache.Cache
	log    *logging.Logger
}

// NewRadicle creates a radicle sharer. References are cached for
// cfg.CacheTTL so repeated shares of one item within a call are free.
func NewRadicle(cfg config.ShareConfig, runner exec.Runner) *Radicle {
	if cfg.Command == "" {
		cfg.Command = "rad"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Radicle{
		cfg:    cfg,
		runner: runner,
		cache:  gocache.New(ttl, 2*ttl),
		log:    logging.New("share"),
	}
}

// Share returns the item's repository id, initializing the repository on
// the network first when it has none.
func (r *Radicle) Share(ctx context.Context, item knowledge.Item) (Reference, error) {
	if v, ok := r.cache.Get(item.ID); ok {
		return v.(Reference), nil
	}
	if item.RepoPath == "" {
		return Reference{}, fmt.Errorf("%w: %s", ErrNoRepository, item.ID)
	}

	start := time.Now()
	rid, err := r.inspect(ctx, item.RepoPath)
	if err != nil {
		r.log.Debug("repo_not_published", map[string]interface{}{"item": item.ID, "error": err.Error()})
		if err := r.initialize(ctx, item); err != nil {
			return Reference{}, err
		}
		if rid, err = r.inspect(ctx, item.RepoPath); err != nil {
			return Reference{}, fmt.Errorf("inspect %s after init: %w", item.ID, err)
		}
	}

	if _, err := r.runner.RunInDir(ctx, item.RepoPath, r.cfg.Command, "sync", "--announce"); err != nil {
		r.log.Warn("announce_failed", map[string]interface{}{"item": item.ID}, err)
	}

	ref := Reference{ItemID: item.ID, Name: item.Name, RID: rid}
	r.cache.SetDefault(item.ID, ref)
	r.log.TimedEvent("item_shared", start, map[string]interface{}{"item": item.ID, "rid": rid})
	return ref, nil
}

func (r *Radicle) inspect(ctx context.Context, dir string) (string, error) {
	out, err := r.runner.RunInDir(ctx, dir, r.cfg.Command, "inspect")
	if err != nil {
		return "", fmt.Errorf("rad inspect: %w: %s", err, strings.TrimSpace(string(out)))
	}
	rid := ridPattern.FindString(string(out))
	if rid == "" {
		return "", fmt.Errorf("rad inspect: no repository id in output")
	}
	return rid, nil
}

func (r *Radicle) initialize(ctx context.Context, item knowledge.Item) error {
	name := Slug(item.Name)
	if name == "" {
		name = Slug(item.ID)
	}
	out, err := r.runner.RunInDir(ctx, item.RepoPath, r.cfg.Command,
		"init", "--name", name, "--default-branch", "main", "--public", "--no-confirm")
	if err != nil {
		return fmt.Errorf("rad init %s: %w: %s", item.ID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CloneLink builds the aggregate "clone everything" link for refs.
func CloneLink(base string, refs []Reference) string {
	rids := make([]string, 0, len(refs))
	for _, ref := range refs {
		rids = append(rids, ref.RID)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "ids=" + url.QueryEscape(strings.Join(rids, ","))
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug makes a repository-safe name.
func Slug(s string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
