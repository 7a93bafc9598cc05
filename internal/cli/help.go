package cli

const rootLong = `docsync: schema-governed document store with remote sync

Records live in collections of one database. Every write is cast and
validated against the configured schema. When sync.url is set, local
writes are flagged for the next push and "docsync sync" reconciles them
with the remote authority; "docsync serve" runs such an authority.

CONFIG
  --config docsync.yaml (or $DOCSYNC_CONFIG); see "docsync config schema".

EXAMPLES
  docsync put --data '{"title":"write docs"}'
  docsync find --where '{"age":{"$gt":30}}' --sort age --order desc
  docsync index create email --unique
  docsync sync --watch
  docsync export --out tasks.dsbak`
