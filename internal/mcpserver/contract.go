package mcpserver

// LeafFormatContract describes the canonical leaf file format that LLM
// consumers should follow when adding knowledge.
const LeafFormatContract = `# Grove Leaf Format Contract

Every leaf stored in grove is a Markdown file at <tree>/<branch>/<name>.md
with YAML frontmatter carrying its trust metadata.

## Structure

` + "```" + `markdown
---
tier: leaves                        # leaves | branches | trunk | roots
confidence: 0.5                     # float in [0.0, 1.0]
tags:                               # OPTIONAL - lowercase labels
  - indicators
  - momentum
created_at: 2025-01-15T10:00:00Z    # set by grove, RFC 3339
updated_at: 2025-01-15T10:00:00Z    # set by grove, RFC 3339
---

Free-text body: the knowledge itself, standard Markdown.
` + "```" + `

## Rules

1. **Tier is a fixed four-value ladder**, ordered by validation:
   leaves (raw observation) -> branches (seen to work) -> trunk (validated)
   -> roots (foundational). Promotion is explicit, never automatic.
2. **Confidence** is an independent scalar in [0.0, 1.0]. It does not follow
   from tier; both are caller-controlled signals of trust.
3. **Tags** are lowercase; used for exact filtering alongside semantic search.
4. **Trees and branches** are plain directories; names use lowercase letters,
   digits, - and _. A leaf is addressed by its full path
   (e.g. trading/patterns/macd-crossovers.md).
5. **Files or directories starting with _ or .** are internal, never leaves.
6. The body is embedded for semantic search; write it as the statement you
   would want recalled.

## Relations

Leaves can be linked in a directed graph. Well-known labels: supports,
contradicts, refines, related_to. Custom labels are allowed
(lowercase, digits, underscores, max 64 chars).
`
