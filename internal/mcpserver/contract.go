package mcpserver

// CardFormatContract describes the card source format that LLM consumers
// should follow when writing cards.
const CardFormatContract = `# anc Card Format Contract

Card sources are UTF-8 text files ending in ` + "`.qz`" + ` anywhere under the
project root (the directory holding ` + "`.anc/`" + `).

## Structure

` + "```" + `
---
deck: biology            # REQUIRED - existing deck name
type: basic              # REQUIRED - note type (model) name
id: mitochondria         # OPTIONAL - stable identity of the card
tags: cells organelles   # OPTIONAL - space separated
html: false              # OPTIONAL - escape markup and keep line breaks
---
What is the powerhouse of the cell?
---
The mitochondria.
###
---
deck: biology
type: cloze
---
{{c1::Ribosomes}} synthesize proteins.
` + "```" + `

## Rules

1. A line containing only ` + "`---`" + ` separates the frontmatter from the first
   field and each field from the next. Fields map to the note type's fields
   in order, after the identity field.
2. A line containing only ` + "`###`" + ` starts the next card.
3. ` + "`deck`" + ` and ` + "`type`" + ` are required. Unknown decks or note types fail
   the whole save and nothing is written. Any frontmatter key other than
   the five above is a parse error.
4. Without ` + "`id`" + ` a card is identified by its file path and position
   (` + "`biology/cells.qz#2`" + `). Moving or reordering such cards creates new
   notes; give cards an explicit ` + "`id`" + ` when they will move.
5. Saving is idempotent: unchanged cards are never rewritten.
6. A basic card needs a non-empty front and back; a cloze card needs at
   least one ` + "`{{cN::...}}`" + ` deletion.
7. Validate with ` + "`check_cards`" + ` before writing, then ` + "`save_cards`" + `.
`
