// Trust and moderation pipeline for the skill marketplace.
//
// This package (`github.com/clawdhub/skillguard/automod`) holds no code itself; the pieces live in sub-packages. `quality` and `scanner` decide at publish time whether a submission is listed, and `gate` runs them in order. `engine` sweeps recently updated skills in the background and files reports for human moderators, using local heuristics and an optional `llm` classifier. `trust` derives the install-time badge shown to users, fed by `reputation` lookups. Storage and caching backends are in `store`, `countstore`, `cachestore` and `blobstore`.
//
// See `cmd/warden` for a daemon built on these packages.
package automod
