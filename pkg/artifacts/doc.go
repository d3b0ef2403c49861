/*
Package artifacts implements the content-addressed artifact store: blob
storage, the SQLite catalog, ingestion from session staging areas, signed
download tokens, and host-side read access.

Files created by sandboxed code are not served from the sandbox. They are
ingested into this store, deduplicated by content hash, and handed out
through short-lived signed URLs instead.

# Architecture

	┌────────────────────── ARTIFACT STORE ─────────────────────┐
	│                                                            │
	│  session staging (host)                                    │
	│       │                                                    │
	│  ┌────▼─────────────────────────────────────────┐          │
	│  │                 Ingestor                     │          │
	│  │  - size cap check (default 50 MiB)           │          │
	│  │  - streaming sha-256 (1 MiB chunks)          │          │
	│  │  - mime by extension                         │          │
	│  │  - delete staging file after commit          │          │
	│  └────┬───────────────────────────┬─────────────┘          │
	│       │                           │                        │
	│  ┌────▼────────────┐   ┌──────────▼──────────────┐         │
	│  │   Blob tree     │   │     SQLite catalog      │         │
	│  │ ab/cd/<sha256>  │   │  artifacts (id, sha256, │         │
	│  │ one file per    │   │    size, mime, filename,│         │
	│  │ unique content  │   │    created_at)          │         │
	│  └─────────────────┘   │  links (artifact_id,    │         │
	│                        │    session_id, run_id,  │         │
	│                        │    tool_call_id, ...)   │         │
	│                        └──────────┬──────────────┘         │
	│                                   │                        │
	│  ┌─────────────┐       ┌──────────▼──────────────┐         │
	│  │   Signer    │◄──────│         Reader          │         │
	│  │ hmac tokens │       │  metadata, bytes, text, │         │
	│  │ signed URLs │       │  per-session listings   │         │
	│  └─────────────┘       └─────────────────────────┘         │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Deduplication

Content is addressed by sha-256. Ingesting the same bytes twice (any
filename, any session) stores one blob and one artifact row; each ingest
adds its own link row tying the artifact to the session that produced
it. If a blob was pruned externally, re-ingesting its content restores
the file without minting a new id.

# Tokens

Download tokens are HMAC-SHA256 signed and time-limited:

	b64url(artifact_id + "." + expiry_unix) + "." + b64url(signature)

The secret comes from configuration; when none is set a random one is
generated for the process lifetime, which invalidates outstanding URLs
on restart. Artifact ids must not contain ".". Verification distinguishes
ErrTokenFormat, ErrTokenSignature, and ErrTokenExpired so the HTTP layer
can answer precisely.

# Usage

	store, err := artifacts.Open(artifacts.Options{
		DBPath:  "./artifacts.db",
		BlobDir: "./blobstore",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	signer, err := artifacts.NewSigner(artifacts.SignerOptions{
		Secret: cfg.ArtifactsSecret,
		TTL:    10 * time.Minute,
	})

	ing := artifacts.NewIngestor(store, signer, 50)
	descriptors, err := ing.Ingest(hostFiles, artifacts.Link{SessionID: "conv-42"})

	reader := artifacts.NewReader(store, signer)
	listing, err := reader.ListSessionArtifacts("conv-42")

# Consistency

SaveArtifact commits the artifact row and its link row in one
transaction, after the blob is already on disk. A crash mid-ingest
leaves the staging file intact and the catalog unchanged; re-running the
ingest converges. Deleting the staging source is best-effort and happens
only after commit.
*/
package artifacts
