/*
Package config loads the daemon's configuration document set from a
config-root directory: settings.yaml (paths, rename, scan, runtime,
shutdown, diagnostics, logging), scene_tags.yaml (the equivalence
catalog's scene-tag suffix list), equivalents.yaml (canonical-title alias
groups), and priority.yaml (ordered source precedence).

# Loading

	settings, err := config.LoadSettings(configRoot)
	if err != nil {
		log.Fatal(err)
	}
	settings.LoadFromEnv()

	sceneTags, err := config.LoadSceneTags(configRoot)
	equivalents, err := config.LoadMangaEquivalents(configRoot)
	priority, err := config.LoadSourcePriority(configRoot)

Every document is optional: a missing settings.yaml yields the validated
defaults of NewDefaultSettings, and a missing scene_tags.yaml,
equivalents.yaml, or priority.yaml yields an empty document rather than an
error, since the daemon can run (with a degraded equivalence catalog and
an unranked priority service) without them.

# Scope

YAML schema validation depth, legacy config migration, and self-healing
config repair are explicitly out of scope; Settings.Validate only rejects
configuration that would make the daemon unsafe to run (non-absolute
roots, an unrecognized log level, negative rename delay or quiet window,
non-positive rescan, poll and mount-failure knobs, unset binary names).

# See also

  - internal/trigger: consumes ScanConfig and RenameConfig via the
    pipeline's options
  - internal/catalog: consumes SceneTags and MangaEquivalents
  - internal/priority: consumes SourcePriority
  - internal/mountsvc: consumes RuntimeConfig
*/
package config
