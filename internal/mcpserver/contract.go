package mcpserver

// OwnershipGuide explains the ownership model to LLM consumers reading
// the tool results.
const OwnershipGuide = `# Template ownership model

Every path of an application generated from a Copier template falls in
exactly one category.

## Categories

- **template-owned**: rendered from the template and kept in sync by it.
  Local edits are drift and must be upstreamed or reverted.
- **app-scaffold**: created once by the template, then owned by the app
  (listed under ` + "`" + `_skip_if_exists` + "`" + `). Changes are context only.
- **excluded**: matched by an ` + "`" + `_exclude` + "`" + ` rule whose condition holds for
  the app's answers. Never generated, never reported.
- **app-only**: present in the app, absent from the template.
- **template-only**: produced by the template but missing from the app.

The first exclusion rule (in declaration order) whose pattern matches and
whose condition is true decides the exclusion.

## Detection methods

- **history-diff**: a commit after the last sync (the latest commit that
  touched ` + "`" + `.copier-answers.yml` + "`" + `) changed the file.
- **content-comparison**: the file differs byte for byte from the template
  source. Only paths copied verbatim (no ` + "`" + `.jinja` + "`" + ` suffix) are compared.
- **both**: flagged by both methods.

Content-only findings predate the last sync; history findings are
post-adoption changes. When the app has no usable git history, only
content comparison runs and the report says why.

## Exit codes

- ` + "`" + `0` + "`" + ` no findings that need remediation
- ` + "`" + `1` + "`" + ` findings present
- ` + "`" + `2` + "`" + ` configuration or input error
`
