// Package command discovers user slash commands.
//
// Commands are markdown or text files in the Claude commands directory,
// normally ~/.claude/commands. The file name without extension is the
// command name. An optional YAML frontmatter block supplies metadata:
//
//	---
//	description: Review the current diff
//	argument-hint: [focus area]
//	---
//	Review the staged changes. Focus on $ARGUMENTS.
//
// Content returns the body with the frontmatter removed. Expand also
// substitutes $ARGUMENTS with the full argument string and $1, $2, ... with
// the individual words.
package command
