/*
Copyright The Charted Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

// Janitor periodically sweeps state nothing references anymore: expired
// API keys, expired sessions, and tarballs orphaned by a publish that
// died between writing the object and recording the release.
type Janitor struct {
	registry *Registry
	cron     *cron.Cron

	// Grace is how old an orphaned object must be before the sweep
	// removes it, so an in-flight publish is never mistaken for a crash.
	Grace time.Duration

	// Log is called with fmt-style arguments for sweep output.
	Log func(string, ...interface{})
}

// NewJanitor returns a janitor over the registry with an hour of grace.
func NewJanitor(registry *Registry, logger func(string, ...interface{})) *Janitor {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Janitor{
		registry: registry,
		cron:     cron.New(),
		Grace:    time.Hour,
		Log:      logger,
	}
}

// Start schedules Sweep on the given cron expression ("@hourly",
// "0 3 * * *", ...) and starts the scheduler.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return errors.Wrapf(err, "unable to schedule janitor on %q", schedule)
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs one pass of every collector. Failures are logged, never
// fatal; whatever a pass misses the next one picks up.
func (j *Janitor) Sweep() {
	ctx := context.Background()
	if n, err := j.registry.db.DeleteExpiredAPIKeys(ctx); err != nil {
		j.Log("janitor: unable to sweep expired api keys: %v", err)
	} else if n > 0 {
		j.Log("janitor: swept %d expired api keys", n)
	}
	if n, err := j.registry.db.DeleteExpiredSessions(ctx); err != nil {
		j.Log("janitor: unable to sweep expired sessions: %v", err)
	} else if n > 0 {
		j.Log("janitor: swept %d expired sessions", n)
	}
	if err := j.sweepOrphans(ctx); err != nil {
		j.Log("janitor: unable to sweep orphaned tarballs: %v", err)
	}
}

// sweepOrphans walks every repository directory in storage and removes
// artifacts whose release row is gone.
func (j *Janitor) sweepOrphans(ctx context.Context) error {
	owners, err := j.registry.repositories.Blobs(ctx, "", nil)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, owner := range owners {
		if !owner.Directory {
			continue
		}
		repos, err := j.registry.repositories.Blobs(ctx, owner.Name, nil)
		if err != nil {
			j.Log("janitor: unable to list repositories of %s: %v", owner.Name, err)
			continue
		}
		for _, repo := range repos {
			if !repo.Directory {
				continue
			}
			j.sweepRepository(ctx, owner.Name, repo.Name)
		}
	}
	return nil
}

func (j *Janitor) sweepRepository(ctx context.Context, owner, repo string) {
	reg := j.registry
	dir := tarballsDir(owner, repo)
	blobs, err := reg.repositories.Blobs(ctx, dir, &storage.ListOptions{
		Extensions:         []string{tarballSuffix},
		ExcludeDirectories: true,
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			j.Log("janitor: unable to list %s: %v", dir, err)
		}
		return
	}

	row, err := reg.db.GetRepository(ctx, owner, repo)
	repoGone := errors.Is(err, database.ErrNotFound)
	if err != nil && !repoGone {
		j.Log("janitor: unable to look up repository %s/%s: %v", owner, repo, err)
		return
	}

	for _, blob := range blobs {
		if !blob.LastModified.IsZero() && time.Since(blob.LastModified) < j.Grace {
			continue
		}
		version := strings.TrimSuffix(strings.TrimSuffix(blob.Name, tarballSuffix), ".provenance")
		orphan := repoGone
		if !repoGone {
			if _, err := reg.db.GetRelease(ctx, row.ID, version); err != nil {
				if !errors.Is(err, database.ErrNotFound) {
					j.Log("janitor: unable to look up release %s of %s/%s: %v", version, owner, repo, err)
					continue
				}
				orphan = true
			}
		}
		if !orphan {
			continue
		}
		key := path.Join(dir, blob.Name)
		if err := reg.repositories.Delete(ctx, key); err != nil {
			j.Log("janitor: unable to remove %s: %v", key, err)
			continue
		}
		j.Log("janitor: removed orphaned %s", key)
	}
}
