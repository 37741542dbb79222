// Package avatar resolves avatar requests against the cache store and keeps
// cached entries in sync with the remote provider.
//
// A request flows Resolver → CacheStore lookup → (StalenessPolicy →)
// SyncEngine → ArtifactLoader.  SyncEngine runs Fetcher → Transcoder →
// ContentAddresser.  Every failure below the Resolver is absorbed into a
// SyncResult or a fallback Resolution; only malformed identities surface to
// the caller.
package avatar
